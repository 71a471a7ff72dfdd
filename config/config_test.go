package config

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"frigate-commander/database"
)

func TestLoadConfigFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("FRIGATE_BASE_URL", "http://nvr.local:5000/")
	t.Setenv("RECORDINGS_PATH_FALLBACK", " /mnt/a, ,/mnt/b ")
	t.Setenv("MAX_CONCURRENT_JOBS", "0")
	t.Setenv("CANCEL_GRACE_SECONDS", "3")
	t.Setenv("LATITUDE", "not-a-number")
	t.Setenv("R2_ENABLED", "true")

	cfg := LoadConfig()

	if cfg.DatabasePath != filepath.Join(dir, "commander.db") {
		t.Errorf("Unexpected database path %s", cfg.DatabasePath)
	}
	if cfg.FrameCacheDir != filepath.Join(dir, "output", "frame_cache") {
		t.Errorf("Unexpected frame cache dir %s", cfg.FrameCacheDir)
	}
	if cfg.FrigateBaseURL != "http://nvr.local:5000" {
		t.Errorf("Expected trailing slash trimmed, got %s", cfg.FrigateBaseURL)
	}
	if want := []string{"/mnt/a", "/mnt/b"}; !reflect.DeepEqual(cfg.RecordingsPathFallback, want) {
		t.Errorf("Expected fallbacks %v, got %v", want, cfg.RecordingsPathFallback)
	}
	if cfg.MaxConcurrentJobs != 1 {
		t.Errorf("Expected at least one job slot, got %d", cfg.MaxConcurrentJobs)
	}
	if cfg.CancelGrace != 3*time.Second {
		t.Errorf("Expected 3s grace, got %s", cfg.CancelGrace)
	}
	if cfg.Latitude != 38.2120 {
		t.Errorf("Expected default latitude on parse error, got %v", cfg.Latitude)
	}
	if !cfg.R2Enabled {
		t.Error("Expected R2 enabled")
	}
	if roots := cfg.RecordingRoots(); len(roots) != 3 || roots[0] != cfg.RecordingsPath {
		t.Errorf("Unexpected roots %v", roots)
	}
}

func TestSettingsService(t *testing.T) {
	db, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "settings.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	manager := NewConfigManager(Config{FrigateBaseURL: "http://a", DefaultEncoder: "auto", Timezone: "UTC"})
	svc := NewSettingsService(db, manager)

	tests := []struct {
		name    string
		updates map[string]string
		wantErr bool
	}{
		{"valid", map[string]string{"default_camera": "feeder", "latitude": "51.5", "default_encoder": "libx265"}, false},
		{"unknown key", map[string]string{"nope": "1"}, true},
		{"bad encoder", map[string]string{"default_encoder": "mpeg2"}, true},
		{"bad timezone", map[string]string{"timezone": "Mars/Olympus"}, true},
		{"latitude out of range", map[string]string{"latitude": "91"}, true},
		{"empty base url", map[string]string{"default_base_url": " "}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Update(tt.updates)
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}

	got := svc.Get()
	if got.DefaultCamera != "feeder" || got.Latitude != 51.5 || got.Encoder != "libx265" {
		t.Errorf("Unexpected settings %+v", got)
	}

	// A fresh manager picks the stored values up again
	reloaded := NewConfigManager(Config{FrigateBaseURL: "http://a", DefaultEncoder: "auto", Timezone: "UTC"})
	if err := NewSettingsService(db, reloaded).Load(); err != nil {
		t.Fatalf("Failed to load settings: %v", err)
	}
	if cfg := reloaded.GetConfig(); cfg.DefaultCamera != "feeder" || cfg.DefaultEncoder != "libx265" {
		t.Errorf("Expected stored settings to be applied, got %+v", SettingsFrom(cfg))
	}
}

func TestConfigManagerOnChange(t *testing.T) {
	cm := NewConfigManager(Config{FrigateBaseURL: "http://a"})

	var seen []string
	cm.OnChange(func(old, current Config) {
		seen = append(seen, old.FrigateBaseURL+">"+current.FrigateBaseURL)
		// Listeners run outside the lock
		if cm.GetConfig().FrigateBaseURL != current.FrigateBaseURL {
			t.Errorf("Listener saw a stale config")
		}
	})

	cfg := cm.GetConfig()
	cfg.FrigateBaseURL = "http://b"
	cm.UpdateConfig(cfg)
	cfg.FrigateBaseURL = "http://c"
	cm.UpdateConfig(cfg)

	if want := []string{"http://a>http://b", "http://b>http://c"}; !reflect.DeepEqual(seen, want) {
		t.Errorf("Expected %v, got %v", want, seen)
	}
}
