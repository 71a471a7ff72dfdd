package database

import (
	"database/sql"
	"fmt"
)

const presetColumns = `id, name, kind, camera, arguments, schedule, created_at`

func scanPreset(row rowScanner) (*Preset, error) {
	var preset Preset
	var camera, schedule sql.NullString
	var arguments string
	err := row.Scan(&preset.ID, &preset.Name, &preset.Kind, &camera, &arguments, &schedule, &preset.CreatedAt)
	if err != nil {
		return nil, err
	}
	preset.Camera = camera.String
	preset.Schedule = schedule.String
	preset.Arguments = []byte(arguments)
	return &preset, nil
}

// CreatePreset inserts a new preset
func (s *SQLiteDB) CreatePreset(preset Preset) error {
	_, err := s.db.Exec(
		`INSERT INTO presets (`+presetColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		preset.ID, preset.Name, preset.Kind, nullString(preset.Camera),
		argumentsText(preset.Arguments), nullString(preset.Schedule), preset.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create preset: %v", err)
	}
	return nil
}

// GetPreset retrieves a preset by ID. Returns nil, nil when it does not exist.
func (s *SQLiteDB) GetPreset(id string) (*Preset, error) {
	preset, err := scanPreset(s.db.QueryRow(`SELECT `+presetColumns+` FROM presets WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preset: %v", err)
	}
	return preset, nil
}

// UpdatePreset overwrites a preset's editable fields
func (s *SQLiteDB) UpdatePreset(preset Preset) error {
	_, err := s.db.Exec(
		`UPDATE presets SET name = ?, kind = ?, camera = ?, arguments = ?, schedule = ? WHERE id = ?`,
		preset.Name, preset.Kind, nullString(preset.Camera),
		argumentsText(preset.Arguments), nullString(preset.Schedule), preset.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update preset: %v", err)
	}
	return nil
}

// ListPresets returns all presets ordered by name
func (s *SQLiteDB) ListPresets() ([]Preset, error) {
	rows, err := s.db.Query(`SELECT ` + presetColumns + ` FROM presets ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list presets: %v", err)
	}
	defer rows.Close()

	var presets []Preset
	for rows.Next() {
		preset, err := scanPreset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan preset row: %v", err)
		}
		presets = append(presets, *preset)
	}
	return presets, rows.Err()
}

// DeletePreset removes a preset
func (s *SQLiteDB) DeletePreset(id string) error {
	if _, err := s.db.Exec("DELETE FROM presets WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete preset %s: %v", id, err)
	}
	return nil
}
