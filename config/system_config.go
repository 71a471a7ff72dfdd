package config

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"frigate-commander/database"
	"frigate-commander/render"
)

// Settings are the runtime-editable defaults served by /api/config
type Settings struct {
	DefaultCamera  string  `json:"default_camera"`
	BaseURL        string  `json:"default_base_url"`
	RecordingsPath string  `json:"default_recordings_path"`
	Encoder        string  `json:"default_encoder"`
	Timezone       string  `json:"timezone"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
}

// SettingsService manages runtime settings stored in the database
type SettingsService struct {
	db      database.Database
	manager *ConfigManager
}

// NewSettingsService creates a new settings service
func NewSettingsService(db database.Database, manager *ConfigManager) *SettingsService {
	return &SettingsService{
		db:      db,
		manager: manager,
	}
}

// Load overlays stored settings onto the current configuration
func (s *SettingsService) Load() error {
	stored, err := s.db.GetAllSettings()
	if err != nil {
		return err
	}
	cfg := s.manager.GetConfig()
	for key, value := range stored {
		if err := applySetting(&cfg, key, value); err != nil {
			log.Printf("Warning: ignoring stored setting %s: %v", key, err)
		}
	}
	s.manager.UpdateConfig(cfg)
	log.Printf("Loaded %d runtime settings from database", len(stored))
	return nil
}

// Get returns the effective settings
func (s *SettingsService) Get() Settings {
	return SettingsFrom(s.manager.GetConfig())
}

// SettingsFrom extracts the editable subset of a configuration
func SettingsFrom(cfg Config) Settings {
	return Settings{
		DefaultCamera:  cfg.DefaultCamera,
		BaseURL:        cfg.FrigateBaseURL,
		RecordingsPath: cfg.RecordingsPath,
		Encoder:        cfg.DefaultEncoder,
		Timezone:       cfg.Timezone,
		Latitude:       cfg.Latitude,
		Longitude:      cfg.Longitude,
	}
}

// Update validates every value first, then persists and applies them.
// Unknown keys are rejected.
func (s *SettingsService) Update(updates map[string]string) (Settings, error) {
	cfg := s.manager.GetConfig()
	for key, value := range updates {
		if err := applySetting(&cfg, key, value); err != nil {
			return Settings{}, err
		}
	}

	for key, value := range updates {
		if err := s.db.SetSetting(key, strings.TrimSpace(value)); err != nil {
			return Settings{}, fmt.Errorf("failed to set %s: %v", key, err)
		}
	}
	s.manager.UpdateConfig(cfg)

	log.Printf("CONFIG: Updated %d runtime settings", len(updates))
	return SettingsFrom(cfg), nil
}

// applySetting validates one key/value pair and writes it into cfg
func applySetting(cfg *Config, key, value string) error {
	value = strings.TrimSpace(value)
	switch key {
	case database.SettingDefaultCamera:
		cfg.DefaultCamera = value
	case database.SettingDefaultBaseURL:
		if value == "" {
			return fmt.Errorf("%s cannot be empty", key)
		}
		cfg.FrigateBaseURL = strings.TrimRight(value, "/")
	case database.SettingRecordingsPath:
		cfg.RecordingsPath = value
	case database.SettingDefaultEncoder:
		if !render.ValidEncoder(value) {
			return fmt.Errorf("unsupported encoder: %s", value)
		}
		cfg.DefaultEncoder = value
	case database.SettingTimezone:
		if _, err := time.LoadLocation(value); err != nil {
			return fmt.Errorf("invalid timezone %q: %v", value, err)
		}
		cfg.Timezone = value
	case database.SettingLatitude:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f < -90 || f > 90 {
			return fmt.Errorf("invalid latitude %q", value)
		}
		cfg.Latitude = f
	case database.SettingLongitude:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f < -180 || f > 180 {
			return fmt.Errorf("invalid longitude %q", value)
		}
		cfg.Longitude = f
	default:
		return fmt.Errorf("unknown setting: %s", key)
	}
	return nil
}
