package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"

	"frigate-commander/segments"
)

const appName = "frigate-commander"

// Config contains all configuration for the application
type Config struct {
	// Server Configuration
	ServerPort string
	APIToken   string // Empty disables authentication

	// Storage Configuration
	DataDir       string
	DatabasePath  string
	JobsDir       string // Job logs and per-job artifacts
	OutputDir     string // Rendered videos and playlists
	FrameCacheDir string

	// NVR Configuration
	FrigateBaseURL         string
	RecordingsPath         string
	RecordingsPathFallback []string
	DefaultCamera          string

	// Location used for dawn/dusk windows
	Timezone  string
	Latitude  float64
	Longitude float64

	// Render Configuration
	FFmpegPath     string
	DefaultEncoder string // "auto" probes the host's encoders
	StartSlop      float64
	EndSlop        float64

	// Job Engine Configuration
	MaxConcurrentJobs int
	CancelGrace       time.Duration
	ProgressInterval  time.Duration

	// NATS Configuration
	NATSURL           string // Empty disables publishing
	NATSSubjectPrefix string

	// R2 Storage Configuration
	R2AccessKey string
	R2SecretKey string
	R2AccountID string
	R2Bucket    string
	R2Region    string
	R2Endpoint  string
	R2BaseURL   string // Public URL prefix for archived renders
	R2Enabled   bool

	// Maintenance Configuration
	ArtifactRetentionDays   int
	FrameCacheRetentionDays int
}

// defaultDataDir resolves $XDG_DATA_HOME/frigate-commander
func defaultDataDir() string {
	dbFile, err := xdg.DataFile(filepath.Join(appName, "commander.db"))
	if err != nil {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local/share", appName)
	}
	return filepath.Dir(dbFile)
}

// LoadConfig loads configuration from environment variables
func LoadConfig() Config {
	dataDir := getEnv("DATA_DIR", "")
	if dataDir == "" {
		dataDir = defaultDataDir()
	}
	outputDir := getEnv("OUTPUT_DIR", filepath.Join(dataDir, "output"))

	loc := segments.DefaultLocation()
	cfg := Config{
		ServerPort: getEnv("SERVER_PORT", "8000"),
		APIToken:   getEnv("API_TOKEN", ""),

		DataDir:       dataDir,
		DatabasePath:  getEnv("DATABASE_PATH", filepath.Join(dataDir, "commander.db")),
		JobsDir:       getEnv("JOBS_DIR", filepath.Join(dataDir, "jobs")),
		OutputDir:     outputDir,
		FrameCacheDir: getEnv("FRAME_CACHE_DIR", filepath.Join(outputDir, "frame_cache")),

		FrigateBaseURL:         strings.TrimRight(getEnv("FRIGATE_BASE_URL", "http://localhost:5000"), "/"),
		RecordingsPath:         getEnv("RECORDINGS_PATH", "/media/frigate/recordings"),
		RecordingsPathFallback: splitList(getEnv("RECORDINGS_PATH_FALLBACK", "")),
		DefaultCamera:          getEnv("DEFAULT_CAMERA", ""),

		Timezone:  getEnv("TIMEZONE", loc.TZ.String()),
		Latitude:  getEnvFloat("LATITUDE", loc.Latitude),
		Longitude: getEnvFloat("LONGITUDE", loc.Longitude),

		FFmpegPath:     getEnv("FFMPEG_PATH", "ffmpeg"),
		DefaultEncoder: getEnv("DEFAULT_ENCODER", "auto"),
		StartSlop:      getEnvFloat("START_SLOP", 2.0),
		EndSlop:        getEnvFloat("END_SLOP", 4.0),

		MaxConcurrentJobs: getEnvInt("MAX_CONCURRENT_JOBS", 2),
		CancelGrace:       time.Duration(getEnvInt("CANCEL_GRACE_SECONDS", 10)) * time.Second,
		ProgressInterval:  time.Duration(getEnvInt("PROGRESS_INTERVAL_SECONDS", 10)) * time.Second,

		NATSURL:           getEnv("NATS_URL", ""),
		NATSSubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "commander.jobs"),

		R2Enabled:   getEnvBool("R2_ENABLED", false),
		R2AccessKey: getEnv("R2_ACCESS_KEY", ""),
		R2SecretKey: getEnv("R2_SECRET_KEY", ""),
		R2AccountID: getEnv("R2_ACCOUNT_ID", ""),
		R2Bucket:    getEnv("R2_BUCKET", ""),
		R2Region:    getEnv("R2_REGION", "auto"),
		R2Endpoint:  getEnv("R2_ENDPOINT", ""),
		R2BaseURL:   getEnv("R2_BASE_URL", ""),

		ArtifactRetentionDays:   getEnvInt("ARTIFACT_RETENTION_DAYS", 14),
		FrameCacheRetentionDays: getEnvInt("FRAME_CACHE_RETENTION_DAYS", 30),
	}

	if cfg.MaxConcurrentJobs < 1 {
		cfg.MaxConcurrentJobs = 1
	}

	log.Printf("Data directory: %s", cfg.DataDir)
	log.Printf("Frigate base URL: %s", cfg.FrigateBaseURL)
	log.Printf("Recordings path: %s (fallbacks: %d)", cfg.RecordingsPath, len(cfg.RecordingsPathFallback))
	log.Printf("Server running on port %s, max %d concurrent jobs", cfg.ServerPort, cfg.MaxConcurrentJobs)
	log.Printf("R2 Storage Enabled: %v", cfg.R2Enabled)

	return cfg
}

// RecordingRoots returns the primary recordings path followed by its fallbacks
func (cfg Config) RecordingRoots() []string {
	roots := []string{}
	if cfg.RecordingsPath != "" {
		roots = append(roots, cfg.RecordingsPath)
	}
	return append(roots, cfg.RecordingsPathFallback...)
}

// Location builds the observer used for dawn/dusk computations
func (cfg Config) Location() segments.Location {
	tz, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Printf("Warning: unknown timezone %q, using local time", cfg.Timezone)
		tz = time.Local
	}
	return segments.Location{Latitude: cfg.Latitude, Longitude: cfg.Longitude, TZ: tz}
}

// getEnv returns environment variable or fallback value
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using %d", key, value, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using %v", key, value, fallback)
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return b
}

// splitList parses a comma separated list, dropping empty items
func splitList(s string) []string {
	var items []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}

// EnsurePaths creates necessary paths
func EnsurePaths(config Config) {
	for _, dir := range []string{
		filepath.Dir(config.DatabasePath),
		config.JobsDir,
		config.OutputDir,
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Printf("Failed to create directory %s: %v", dir, err)
		}
	}
}
