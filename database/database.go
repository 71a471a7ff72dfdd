package database

import (
	"encoding/json"
	"time"
)

// JobStatus represents the current state of a render job
type JobStatus string

const (
	StatusPending   JobStatus = "pending"   // Job is persisted but not started
	StatusRunning   JobStatus = "running"   // Job has a live supervising task
	StatusCompleted JobStatus = "completed" // Job produced its output file
	StatusFailed    JobStatus = "failed"    // Job ended with an error
	StatusCancelled JobStatus = "cancelled" // Job was cancelled by a caller
)

// IsTerminal reports whether no further transition may leave this status.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// JobKind selects the pipeline a job runs
type JobKind string

const (
	KindMontage        JobKind = "montage"
	KindTimelapse      JobKind = "timelapse"
	KindMotionPlaylist JobKind = "motion_playlist"
)

// Valid reports whether k names a known pipeline.
func (k JobKind) Valid() bool {
	switch k {
	case KindMontage, KindTimelapse, KindMotionPlaylist:
		return true
	}
	return false
}

// Progress is the last known phase/percent/message of a job
type Progress struct {
	Phase   string  `json:"phase"`
	Percent float64 `json:"percent"`
	Message string  `json:"message"`
}

// Job is the persisted record of one render request
type Job struct {
	ID          string          `json:"id"`
	Kind        JobKind         `json:"type"`
	Status      JobStatus       `json:"status"`
	Camera      string          `json:"camera"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt"`
	CompletedAt *time.Time      `json:"completedAt"`
	Progress    Progress        `json:"progress"`
	Arguments   json.RawMessage `json:"arguments"`
	OutputFile  string          `json:"outputFile,omitempty"`
	Error       string          `json:"error,omitempty"`
	LogFile     string          `json:"logFile,omitempty"`
	PID         int             `json:"pid,omitempty"`
	ArchiveURL  string          `json:"archiveUrl,omitempty"` // Set once the output is uploaded to R2
}

// JobFilter narrows ListJobs. Zero values match everything.
type JobFilter struct {
	Status JobStatus
	Kind   JobKind
	Camera string
	Limit  int
	Offset int
}

// Preset is a saved set of job arguments, optionally run on a cron schedule
type Preset struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Kind      JobKind         `json:"type"`
	Camera    string          `json:"camera"`
	Arguments json.RawMessage `json:"arguments"`
	Schedule  string          `json:"schedule,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Database defines the interface for database operations
type Database interface {
	// Job operations
	CreateJob(job Job) error
	GetJob(id string) (*Job, error)
	SaveJob(job Job) error
	ListJobs(filter JobFilter) ([]Job, error)
	DeleteJob(id string) error
	GetJobsByStatus(status JobStatus) ([]Job, error)
	UpdateJobArchiveURL(id, url string) error

	// Preset operations
	CreatePreset(preset Preset) error
	GetPreset(id string) (*Preset, error)
	UpdatePreset(preset Preset) error
	ListPresets() ([]Preset, error)
	DeletePreset(id string) error

	// Settings operations
	GetAllSettings() (map[string]string, error)
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error

	// Helper operations
	Close() error
}
