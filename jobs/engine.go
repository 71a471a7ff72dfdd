// Package jobs owns render jobs: it validates requests, persists every state
// transition, supervises the pipeline of each running job and fans progress
// out to subscribers.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"frigate-commander/config"
	"frigate-commander/database"
	"frigate-commander/frigate"
	"frigate-commander/runner"
)

var (
	ErrNotFound     = errors.New("job not found")
	ErrInvalidState = errors.New("invalid job state")
)

// Error messages written to terminal jobs
const (
	msgCancelledBeforeStart = "Cancelled before starting"
	msgCancelled            = "Job was cancelled"
	msgInterrupted          = "Server restarted while job was running"
	msgNoOutput             = "Job finished without reporting an output file"
)

// DetectionSource is the part of the NVR API the pipelines consume
type DetectionSource interface {
	Events(ctx context.Context, camera string, after, before int64, limit int) ([]frigate.Event, error)
	MotionReviews(ctx context.Context, camera string, limit int) ([]frigate.ReviewItem, error)
	Probe(ctx context.Context, rawURL string) bool
}

// Pipeline renders one job. Output lines go through run.Printf or run.Exec;
// the job completes once a line announced an existing output file.
type Pipeline func(ctx context.Context, run *Run) error

// Engine runs jobs. All state lives in the database; the engine only keeps
// the supervising tasks of jobs that are currently running.
type Engine struct {
	db        database.Database
	logs      *database.LogStore
	cfg       *config.ConfigManager
	runner    *runner.Runner
	broker    *Broker
	tasks     *registry
	slots     *semaphore.Weighted
	pipelines map[database.JobKind]Pipeline
	sources   func(baseURL string) DetectionSource
	now       func() time.Time

	writeMu sync.Mutex // serializes read-modify-write of job records
	wg      sync.WaitGroup
}

// NewEngine creates an engine with the built-in pipelines
func NewEngine(db database.Database, logs *database.LogStore, cfg *config.ConfigManager) *Engine {
	c := cfg.GetConfig()
	slots := c.MaxConcurrentJobs
	if slots < 1 {
		slots = 1
	}
	e := &Engine{
		db:     db,
		logs:   logs,
		cfg:    cfg,
		runner: runner.NewRunner(c.CancelGrace, c.ProgressInterval),
		broker: NewBroker(),
		tasks:  newRegistry(),
		slots:  semaphore.NewWeighted(int64(slots)),
		pipelines: map[database.JobKind]Pipeline{
			database.KindMontage:        montagePipeline,
			database.KindTimelapse:      timelapsePipeline,
			database.KindMotionPlaylist: motionPlaylistPipeline,
		},
		sources: func(baseURL string) DetectionSource {
			return frigate.NewClient(baseURL)
		},
		now: time.Now,
	}
	return e
}

// SetPipeline replaces the pipeline of kind
func (e *Engine) SetPipeline(kind database.JobKind, p Pipeline) {
	e.pipelines[kind] = p
}

// SetSourceFactory replaces how pipelines reach the detection source
func (e *Engine) SetSourceFactory(f func(baseURL string) DetectionSource) {
	e.sources = f
}

// Broker exposes the snapshot fan-out for observers
func (e *Engine) Broker() *Broker {
	return e.broker
}

// Subscribe receives the snapshots of one job until Close
func (e *Engine) Subscribe(id string) *Subscription {
	return e.broker.Subscribe(id)
}

func (e *Engine) artifactDir(id string) string {
	return filepath.Join(e.cfg.GetConfig().JobsDir, "artifacts", id)
}

func newJobID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Create validates arguments and persists a pending job. The camera defaults
// to the configured default camera.
func (e *Engine) Create(kind database.JobKind, camera string, arguments json.RawMessage) (*database.Job, error) {
	if !kind.Valid() {
		return nil, invalid("unknown job type: %s", kind)
	}
	cfg := e.cfg.GetConfig()
	camera = strings.TrimSpace(camera)
	if camera == "" {
		camera = cfg.DefaultCamera
	}
	if camera == "" {
		return nil, invalid("camera is required")
	}

	loc := cfg.Location()
	args, err := ParseArgs(kind, arguments, loc.TZ)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if _, _, err := resolveWindow(args, loc, now); err != nil {
		return nil, err
	}

	if len(strings.TrimSpace(string(arguments))) == 0 {
		arguments = json.RawMessage("{}")
	}
	id := newJobID()
	job := database.Job{
		ID:        id,
		Kind:      kind,
		Status:    database.StatusPending,
		Camera:    camera,
		CreatedAt: now,
		Progress:  database.Progress{Phase: "pending"},
		Arguments: arguments,
		LogFile:   e.logs.Path(id),
	}
	if err := e.db.CreateJob(job); err != nil {
		return nil, err
	}
	log.Printf("[JobEngine] Created %s job %s for camera %s", kind, id, camera)
	return &job, nil
}

// Get returns a job or ErrNotFound
func (e *Engine) Get(id string) (*database.Job, error) {
	job, err := e.db.GetJob(id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrNotFound
	}
	return job, nil
}

// List returns jobs newest first
func (e *Engine) List(filter database.JobFilter) ([]database.Job, error) {
	return e.db.ListJobs(filter)
}

// IsRunning reports whether a supervising task exists for id
func (e *Engine) IsRunning(id string) bool {
	return e.tasks.get(id) != nil
}

// Running returns the ids of tracked jobs
func (e *Engine) Running() []string {
	return e.tasks.ids()
}

// Logs returns the last tail lines of a job's log
func (e *Engine) Logs(id string, tail int) ([]string, error) {
	if _, err := e.Get(id); err != nil {
		return nil, err
	}
	return e.logs.Tail(id, tail)
}

// mutate applies fn to the stored job under the write lock. Terminal jobs are
// never modified. applied is false when the job was terminal or fn declined.
// With publish set, an applied change is published before the lock is
// released, so no snapshot can follow the terminal one.
func (e *Engine) mutate(id string, publish bool, fn func(job *database.Job) bool) (*database.Job, bool, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	job, err := e.db.GetJob(id)
	if err != nil {
		return nil, false, err
	}
	if job == nil {
		return nil, false, ErrNotFound
	}
	if job.Status.IsTerminal() || !fn(job) {
		return job, false, nil
	}
	if err := e.db.SaveJob(*job); err != nil {
		return nil, false, err
	}
	if publish {
		e.broker.Publish(*job)
	}
	return job, true, nil
}

// terminate writes a terminal status and publishes the final snapshot
func (e *Engine) terminate(id string, status database.JobStatus, output, errMsg string) (*database.Job, bool) {
	now := e.now()
	job, applied, err := e.mutate(id, true, func(job *database.Job) bool {
		job.Status = status
		job.CompletedAt = &now
		job.Error = errMsg
		if output != "" {
			job.OutputFile = output
		}
		if status == database.StatusCompleted {
			job.Progress = database.Progress{Phase: "complete", Percent: 100, Message: job.Progress.Message}
		}
		return true
	})
	if err != nil {
		log.Printf("[JobEngine] Failed to finalize job %s: %v", id, err)
		return nil, false
	}
	return job, applied
}

// Start launches the supervising task of a pending job. It returns false when
// the job is already tracked or not pending.
func (e *Engine) Start(id string) (bool, error) {
	job, err := e.Get(id)
	if err != nil {
		return false, err
	}
	if job.Status != database.StatusPending {
		return false, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}
	if !e.tasks.add(id, t) {
		cancel()
		return false, nil
	}

	e.wg.Add(1)
	go e.supervise(ctx, t, *job)
	return true, nil
}

func (e *Engine) supervise(ctx context.Context, t *task, job database.Job) {
	defer e.wg.Done()
	defer close(t.done)
	defer e.tasks.remove(job.ID, t)
	defer t.cancel()

	if err := e.slots.Acquire(ctx, 1); err != nil {
		e.logs.Appendf(job.ID, "Job cancelled while waiting for a free slot")
		e.terminate(job.ID, database.StatusCancelled, "", msgCancelled)
		return
	}
	defer e.slots.Release(1)

	started := e.now()
	current, applied, err := e.mutate(job.ID, true, func(j *database.Job) bool {
		if j.Status != database.StatusPending {
			return false
		}
		j.Status = database.StatusRunning
		j.StartedAt = &started
		j.Progress = database.Progress{Phase: "starting", Percent: 0, Message: "Starting..."}
		return true
	})
	if err != nil {
		log.Printf("[JobEngine] Failed to start job %s: %v", job.ID, err)
		return
	}
	if !applied {
		return
	}
	e.logs.Appendf(job.ID, "Starting %s job for camera %s", job.Kind, job.Camera)
	log.Printf("[JobEngine] Job %s started", job.ID)

	run, err := e.newRun(*current, t)
	if err == nil {
		err = e.pipelines[job.Kind](ctx, run)
	}
	output := ""
	if run != nil {
		output = run.output()
	}
	e.finish(ctx, job.ID, err, output)
}

// finish maps the pipeline outcome to a terminal state
func (e *Engine) finish(ctx context.Context, id string, err error, output string) {
	var exitErr *runner.ExitError
	switch {
	case ctx.Err() != nil || errors.Is(err, runner.ErrCancelled) || errors.Is(err, context.Canceled):
		e.logs.Appendf(id, "Job cancelled")
		e.terminate(id, database.StatusCancelled, "", msgCancelled)
		log.Printf("[JobEngine] Job %s cancelled", id)
	case errors.As(err, &exitErr):
		e.logs.Appendf(id, "Job failed (exit code %d)", exitErr.Code)
		e.terminate(id, database.StatusFailed, "", exitErr.Error())
		log.Printf("[JobEngine] Job %s failed: %v", id, err)
	case err != nil:
		e.logs.Appendf(id, "Job failed: %v", err)
		e.terminate(id, database.StatusFailed, "", err.Error())
		log.Printf("[JobEngine] Job %s failed: %v", id, err)
	case output == "":
		e.logs.Appendf(id, "Job failed: %s", msgNoOutput)
		e.terminate(id, database.StatusFailed, "", msgNoOutput)
		log.Printf("[JobEngine] Job %s failed: no output", id)
	default:
		e.logs.Appendf(id, "Job completed successfully")
		e.terminate(id, database.StatusCompleted, output, "")
		log.Printf("[JobEngine] Job %s completed: %s", id, output)
	}
}

// Cancel stops a job. Pending jobs are cancelled directly; running jobs get
// their process group terminated and are marked cancelled once the task
// exits, or after a bounded wait when it does not.
func (e *Engine) Cancel(id string) error {
	job, err := e.Get(id)
	if err != nil {
		return err
	}

	t := e.tasks.get(id)
	if t == nil {
		switch job.Status {
		case database.StatusPending:
			e.logs.Appendf(id, "Job cancelled before starting")
			e.terminate(id, database.StatusCancelled, "", msgCancelledBeforeStart)
			return nil
		case database.StatusRunning:
			// No task owns it, so nothing can finish it
			e.terminate(id, database.StatusCancelled, "", msgCancelled)
			return nil
		}
		return fmt.Errorf("%w: cannot cancel job with status %s", ErrInvalidState, job.Status)
	}

	log.Printf("[JobEngine] Cancelling job %s", id)
	e.logs.Appendf(id, "Cancellation requested")
	t.cancel()

	wait := 2*e.runner.Grace + 5*time.Second
	select {
	case <-t.done:
	case <-time.After(wait):
		if pid := int(t.pid.Load()); pid > 0 {
			runner.KillGroup(pid)
		}
		log.Printf("[JobEngine] Job %s did not stop within %s, marking cancelled", id, wait)
		e.terminate(id, database.StatusCancelled, "", msgCancelled)
	}
	return nil
}

// Retry creates and starts a new job with the arguments of a failed or cancelled one
func (e *Engine) Retry(id string) (*database.Job, error) {
	old, err := e.Get(id)
	if err != nil {
		return nil, err
	}
	if old.Status != database.StatusFailed && old.Status != database.StatusCancelled {
		return nil, fmt.Errorf("%w: cannot retry job with status %s", ErrInvalidState, old.Status)
	}
	job, err := e.Create(old.Kind, old.Camera, old.Arguments)
	if err != nil {
		return nil, err
	}
	e.logs.Appendf(job.ID, "Retry of job %s", old.ID)
	if _, err := e.Start(job.ID); err != nil {
		return nil, err
	}
	return e.Get(job.ID)
}

// Delete removes a job with its log and artifacts. A running job is cancelled
// first when cancelRunning is set, otherwise ErrInvalidState is returned.
func (e *Engine) Delete(id string, cancelRunning bool) error {
	if _, err := e.Get(id); err != nil {
		return err
	}
	if e.IsRunning(id) {
		if !cancelRunning {
			return fmt.Errorf("%w: job is running", ErrInvalidState)
		}
		if err := e.Cancel(id); err != nil {
			return err
		}
	}

	if err := e.logs.Remove(id); err != nil {
		log.Printf("[JobEngine] %v", err)
	}
	if err := os.RemoveAll(e.artifactDir(id)); err != nil {
		log.Printf("[JobEngine] Failed to remove artifacts of %s: %v", id, err)
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.db.DeleteJob(id)
}

// RecoverInterrupted fails every job left running by a previous process
func (e *Engine) RecoverInterrupted() (int, error) {
	running, err := e.db.GetJobsByStatus(database.StatusRunning)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, job := range running {
		if e.IsRunning(job.ID) {
			continue
		}
		e.logs.Appendf(job.ID, "%s", msgInterrupted)
		if _, applied := e.terminate(job.ID, database.StatusFailed, "", msgInterrupted); applied {
			recovered++
		}
	}
	if recovered > 0 {
		log.Printf("[JobEngine] Marked %d interrupted jobs as failed", recovered)
	}
	return recovered, nil
}

// Shutdown cancels every running job and waits for their tasks
func (e *Engine) Shutdown(ctx context.Context) error {
	live := e.tasks.close()
	for _, t := range live {
		t.cancel()
	}
	log.Printf("[JobEngine] Shutting down, waiting for %d jobs", len(live))

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
