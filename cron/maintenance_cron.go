package cron

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"frigate-commander/config"
)

// concatListMaxAge is how long a leftover concat list may linger
const concatListMaxAge = 24 * time.Hour

// SweepResult counts what one maintenance pass removed
type SweepResult struct {
	FrameCacheFiles int
	ArtifactDirs    int
	ConcatLists     int
}

// MaintenanceCron prunes the frame cache, job artifacts and concat lists once a day
type MaintenanceCron struct {
	cron      *cron.Cron
	cfg       *config.ConfigManager
	isRunning bool
	mu        sync.Mutex
}

// NewMaintenanceCron creates a new maintenance cron
func NewMaintenanceCron(cfg *config.ConfigManager) *MaintenanceCron {
	return &MaintenanceCron{
		cron: cron.New(cron.WithSeconds()),
		cfg:  cfg,
	}
}

// Start schedules the daily sweep at 03:15
func (mc *MaintenanceCron) Start() error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if mc.isRunning {
		log.Println("[Maintenance] Cron is already running")
		return nil
	}

	_, err := mc.cron.AddFunc("0 15 3 * * *", func() {
		mc.Sweep(time.Now())
	})
	if err != nil {
		return err
	}

	mc.cron.Start()
	mc.isRunning = true
	log.Println("[Maintenance] Daily sweep scheduled at 03:15")
	return nil
}

// Stop stops the maintenance cron
func (mc *MaintenanceCron) Stop() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if !mc.isRunning {
		return
	}
	ctx := mc.cron.Stop()
	<-ctx.Done()
	mc.isRunning = false
	log.Println("[Maintenance] Cron stopped")
}

// IsRunning returns whether the cron is currently running
func (mc *MaintenanceCron) IsRunning() bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.isRunning
}

// Sweep removes everything that outlived its retention as of now
func (mc *MaintenanceCron) Sweep(now time.Time) SweepResult {
	cfg := mc.cfg.GetConfig()
	var res SweepResult

	if cfg.FrameCacheDir != "" && cfg.FrameCacheRetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -cfg.FrameCacheRetentionDays)
		res.FrameCacheFiles = sweepFiles(cfg.FrameCacheDir, cutoff)
	}
	if cfg.ArtifactRetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -cfg.ArtifactRetentionDays)
		res.ArtifactDirs = sweepDirs(filepath.Join(cfg.JobsDir, "artifacts"), cutoff)
	}
	res.ConcatLists = sweepConcatLists(cfg.OutputDir, now.Add(-concatListMaxAge))

	log.Printf("[Maintenance] Sweep removed %d cached frames, %d artifact dirs, %d concat lists",
		res.FrameCacheFiles, res.ArtifactDirs, res.ConcatLists)
	return res
}

// sweepFiles deletes regular files under root modified before cutoff and
// prunes directories left empty
func sweepFiles(root string, cutoff time.Time) int {
	removed := 0
	var dirs []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if path != root {
				dirs = append(dirs, path)
			}
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				log.Printf("[Maintenance] Failed to remove %s: %v", path, err)
				return nil
			}
			removed++
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		log.Printf("[Maintenance] Error walking %s: %v", root, err)
	}
	// deepest first
	for i := len(dirs) - 1; i >= 0; i-- {
		_ = os.Remove(dirs[i])
	}
	return removed
}

// sweepDirs deletes the immediate subdirectories of root older than cutoff
func sweepDirs(root string, cutoff time.Time) int {
	entries, err := os.ReadDir(root)
	if err != nil {
		return 0
	}
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Printf("[Maintenance] Failed to remove %s: %v", path, err)
			continue
		}
		removed++
	}
	return removed
}

func sweepConcatLists(dir string, cutoff time.Time) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, ".concat_") || !strings.HasSuffix(name, ".txt") {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err == nil {
			removed++
		}
	}
	return removed
}
