package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"frigate-commander/config"
	"frigate-commander/database"
	"frigate-commander/render"
	"frigate-commander/runner"
	"frigate-commander/segments"
)

// Run is the context handed to a pipeline for one job execution
type Run struct {
	Job         database.Job
	Args        Args
	Window      segments.Window // zero for kinds without a window
	Config      config.Config
	OutputDir   string
	ArtifactDir string

	engine  *Engine
	task    *task
	mu      sync.Mutex // orders line handling
	tracker *runner.Tracker
	partial string
}

func (e *Engine) newRun(job database.Job, t *task) (*Run, error) {
	cfg := e.cfg.GetConfig()
	loc := cfg.Location()
	args, err := ParseArgs(job.Kind, job.Arguments, loc.TZ)
	if err != nil {
		return nil, err
	}
	window, _, err := resolveWindow(args, loc, job.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &Run{
		Job:         job,
		Args:        args,
		Window:      window,
		Config:      cfg,
		OutputDir:   cfg.OutputDir,
		ArtifactDir: e.artifactDir(job.ID),
		engine:      e,
		task:        t,
		tracker:     runner.NewTracker(job.Progress),
	}, nil
}

// handleLine logs one output line and folds it into the job's progress.
// Progress is persisted on any change; subscribers hear about phase or percent changes.
func (r *Run) handleLine(line string) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.engine
	if err := e.logs.Append(r.Job.ID, line); err != nil {
		log.Printf("[JobEngine] %v", err)
	}
	changed, notify := r.tracker.Feed(line)
	if !changed {
		return
	}
	progress := r.tracker.Progress
	if _, _, err := e.mutate(r.Job.ID, notify, func(j *database.Job) bool {
		j.Progress = progress
		return true
	}); err != nil {
		log.Printf("[JobEngine] Failed to save progress of %s: %v", r.Job.ID, err)
	}
}

// Printf emits a formatted output line
func (r *Run) Printf(format string, args ...interface{}) {
	r.handleLine(fmt.Sprintf(format, args...))
}

// Write lets the run serve as an io.Writer for line oriented helpers
func (r *Run) Write(p []byte) (int, error) {
	r.mu.Lock()
	text := r.partial + string(p)
	lines := strings.Split(text, "\n")
	r.partial = lines[len(lines)-1]
	r.mu.Unlock()

	for _, line := range lines[:len(lines)-1] {
		r.handleLine(line)
	}
	return len(p), nil
}

// output returns the last output file announced by the run
func (r *Run) output() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.partial != "" {
		if out := runner.OutputPath(r.partial); out != "" {
			r.tracker.Output = out
		}
	}
	return r.tracker.Output
}

// Exec runs an external command, streaming its output through the job
func (r *Run) Exec(ctx context.Context, cmd *render.Command) error {
	r.Printf("Running: %s", cmd.String())
	c := runner.Command{
		Path:            cmd.Path,
		Args:            cmd.Args,
		FFmpegProgress:  hasArg(cmd.Args, "-progress"),
		ExpectedSeconds: cmd.ExpectedSeconds,
	}
	onStart := func(pid int) {
		r.task.pid.Store(int64(pid))
		if _, _, err := r.engine.mutate(r.Job.ID, false, func(j *database.Job) bool {
			j.PID = pid
			return true
		}); err != nil {
			log.Printf("[JobEngine] Failed to save pid of %s: %v", r.Job.ID, err)
		}
	}
	_, err := r.engine.runner.Run(ctx, c, onStart, r.handleLine)
	r.task.pid.Store(0)
	return err
}

// Source returns a detection source client for baseURL
func (r *Run) Source(baseURL string) DetectionSource {
	return r.engine.sources(baseURL)
}

// Now returns the engine clock
func (r *Run) Now() time.Time {
	return r.engine.now()
}

// DumpJSON writes a debug artifact into the job's artifact directory
func (r *Run) DumpJSON(name string, v interface{}) error {
	if err := os.MkdirAll(r.ArtifactDir, 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %v", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %v", name, err)
	}
	path := filepath.Join(r.ArtifactDir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %v", name, err)
	}
	r.Printf("Wrote artifact %s", path)
	return nil
}

func hasArg(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}
