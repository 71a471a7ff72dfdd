package cron

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"frigate-commander/database"
)

// JobStarter creates and launches jobs
type JobStarter interface {
	Create(kind database.JobKind, camera string, arguments json.RawMessage) (*database.Job, error)
	Start(id string) (bool, error)
}

// ValidateSchedule checks a standard five field cron expression
func ValidateSchedule(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %v", spec, err)
	}
	return nil
}

// PresetCron runs presets that carry a schedule
type PresetCron struct {
	cron    *cron.Cron
	db      database.Database
	starter JobStarter

	mu        sync.Mutex
	entries   map[string]cron.EntryID
	isRunning bool
}

// NewPresetCron creates a scheduler for stored presets
func NewPresetCron(db database.Database, starter JobStarter) *PresetCron {
	return &PresetCron{
		cron:    cron.New(),
		db:      db,
		starter: starter,
		entries: make(map[string]cron.EntryID),
	}
}

// Start schedules every stored preset that has a schedule
func (pc *PresetCron) Start() error {
	pc.mu.Lock()
	if pc.isRunning {
		pc.mu.Unlock()
		log.Println("[Scheduler] Cron is already running")
		return nil
	}
	pc.mu.Unlock()

	presets, err := pc.db.ListPresets()
	if err != nil {
		return err
	}
	for _, p := range presets {
		if err := pc.Sync(p); err != nil {
			log.Printf("[Scheduler] Skipping preset %s: %v", p.Name, err)
		}
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.cron.Start()
	pc.isRunning = true
	log.Printf("[Scheduler] Started with %d scheduled presets", len(pc.entries))
	return nil
}

// Stop stops the scheduler and waits for running callbacks
func (pc *PresetCron) Stop() {
	pc.mu.Lock()
	if !pc.isRunning {
		pc.mu.Unlock()
		return
	}
	pc.isRunning = false
	pc.mu.Unlock()

	ctx := pc.cron.Stop()
	select {
	case <-ctx.Done():
		log.Println("[Scheduler] Preset cron stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Println("[Scheduler] Preset cron stopped with timeout")
	}
}

// Sync adds, replaces or drops the entry of a preset to match its schedule
func (pc *PresetCron) Sync(preset database.Preset) error {
	if err := ValidateSchedule(preset.Schedule); err != nil {
		return err
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if id, ok := pc.entries[preset.ID]; ok {
		pc.cron.Remove(id)
		delete(pc.entries, preset.ID)
	}
	if preset.Schedule == "" {
		return nil
	}

	presetID := preset.ID
	entry, err := pc.cron.AddFunc(preset.Schedule, func() {
		pc.runScheduled(presetID)
	})
	if err != nil {
		return err
	}
	pc.entries[preset.ID] = entry
	log.Printf("[Scheduler] Preset %s scheduled: %s", preset.Name, preset.Schedule)
	return nil
}

// Remove drops the entry of a deleted preset
func (pc *PresetCron) Remove(presetID string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if id, ok := pc.entries[presetID]; ok {
		pc.cron.Remove(id)
		delete(pc.entries, presetID)
	}
}

// Scheduled returns the number of presets with a live entry
func (pc *PresetCron) Scheduled() int {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return len(pc.entries)
}

// NextRun returns the next activation of a preset, zero when unscheduled
func (pc *PresetCron) NextRun(presetID string) time.Time {
	pc.mu.Lock()
	id, ok := pc.entries[presetID]
	pc.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return pc.cron.Entry(id).Next
}

// runScheduled reloads the preset so edits made since scheduling apply
func (pc *PresetCron) runScheduled(presetID string) {
	preset, err := pc.db.GetPreset(presetID)
	if err != nil {
		log.Printf("[Scheduler] Error loading preset %s: %v", presetID, err)
		return
	}
	if preset == nil {
		log.Printf("[Scheduler] Preset %s no longer exists", presetID)
		pc.Remove(presetID)
		return
	}
	if _, err := RunPreset(pc.starter, *preset); err != nil {
		log.Printf("[Scheduler] Preset %s failed to start: %v", preset.Name, err)
	}
}

// RunPreset creates and starts a job from a preset
func RunPreset(starter JobStarter, preset database.Preset) (*database.Job, error) {
	job, err := starter.Create(preset.Kind, preset.Camera, preset.Arguments)
	if err != nil {
		return nil, err
	}
	if _, err := starter.Start(job.ID); err != nil {
		return nil, err
	}
	log.Printf("[Scheduler] Preset %s started job %s", preset.Name, job.ID)
	return job, nil
}
