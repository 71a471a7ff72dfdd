package database

import (
	"database/sql"
	"fmt"
)

// Settings keys editable at runtime
const (
	SettingDefaultCamera  = "default_camera"
	SettingDefaultBaseURL = "default_base_url"
	SettingRecordingsPath = "default_recordings_path"
	SettingDefaultEncoder = "default_encoder"
	SettingTimezone       = "timezone"
	SettingLatitude       = "latitude"
	SettingLongitude      = "longitude"
)

// GetAllSettings retrieves all settings entries from the database
func (s *SQLiteDB) GetAllSettings() (map[string]string, error) {
	rows, err := s.db.Query("SELECT key, value FROM settings")
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %v", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan settings row: %v", err)
		}
		settings[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settings rows: %v", err)
	}

	return settings, nil
}

// GetSetting retrieves a single setting. Missing keys yield "", nil.
func (s *SQLiteDB) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %v", key, err)
	}
	return value, nil
}

// SetSetting sets a setting value, creating it if it doesn't exist
func (s *SQLiteDB) SetSetting(key, value string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %v", key, err)
	}
	return nil
}
