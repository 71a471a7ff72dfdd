package metrics

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"frigate-commander/database"
	"frigate-commander/jobs"
)

// PhaseTiming is how long a job spent in one progress phase
type PhaseTiming struct {
	Phase    string        `json:"phase"`
	Duration time.Duration `json:"duration"`
}

// JobMetrics is the time a job spent in each progress phase
type JobMetrics struct {
	JobID         string        `json:"job_id"`
	Kind          string        `json:"type"`
	StartTime     time.Time     `json:"start_time"`
	Phases        []PhaseTiming `json:"phases"`
	Status        string        `json:"status"`
	TotalDuration time.Duration `json:"total_duration"`
}

// jobTracker folds snapshots of one job into its JobMetrics
type jobTracker struct {
	JobMetrics

	phase      string
	phaseStart time.Time
	finished   bool
	mu         sync.Mutex
}

func newJobTracker(jobID string, kind database.JobKind, now time.Time) *jobTracker {
	return &jobTracker{JobMetrics: JobMetrics{
		JobID:     jobID,
		Kind:      string(kind),
		StartTime: now,
	}}
}

// closePhase ends the current phase at now. Repeated phases accumulate.
func (m *jobTracker) closePhase(now time.Time) {
	if m.phase == "" {
		return
	}
	d := now.Sub(m.phaseStart)
	for i := range m.Phases {
		if m.Phases[i].Phase == m.phase {
			m.Phases[i].Duration += d
			return
		}
	}
	m.Phases = append(m.Phases, PhaseTiming{Phase: m.phase, Duration: d})
}

// observe folds one snapshot into the metrics
func (m *jobTracker) observe(job database.Job, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finished {
		return
	}
	m.Status = string(job.Status)

	if job.Status.IsTerminal() {
		m.closePhase(now)
		m.phase = ""
		m.finished = true
		m.TotalDuration = now.Sub(m.StartTime)
		log.Printf("[Metrics] Job %s: %s", m.JobID, m.GetSummary())
		return
	}
	if job.Progress.Phase != m.phase {
		m.closePhase(now)
		m.phase = job.Progress.Phase
		m.phaseStart = now
	}
}

func (m *jobTracker) snapshot() JobMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.JobMetrics
	out.Phases = append([]PhaseTiming(nil), m.Phases...)
	return out
}

// GetSummary returns a one line summary of all phases
func (m JobMetrics) GetSummary() string {
	parts := make([]string, 0, len(m.Phases))
	for _, p := range m.Phases {
		parts = append(parts, fmt.Sprintf("%s %v", p.Phase, p.Duration.Round(time.Millisecond)))
	}
	return fmt.Sprintf("%s in %v (%s)", m.Status, m.TotalDuration.Round(time.Millisecond), strings.Join(parts, ", "))
}

// Collector manages metrics for every job seen on the broker
type Collector struct {
	metrics map[string]*jobTracker
	mu      sync.RWMutex
	now     func() time.Time
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		metrics: make(map[string]*jobTracker),
		now:     time.Now,
	}
}

// Observe records a snapshot, creating metrics on the first one of a job
func (c *Collector) Observe(job database.Job) {
	now := c.now()
	c.mu.Lock()
	m, ok := c.metrics[job.ID]
	if !ok {
		start := now
		if job.StartedAt != nil {
			start = *job.StartedAt
		}
		m = newJobTracker(job.ID, job.Kind, start)
		c.metrics[job.ID] = m
	}
	c.mu.Unlock()
	m.observe(job, now)
}

// Run consumes sub until ctx is done, pruning metrics older than maxAge every hour
func (c *Collector) Run(ctx context.Context, sub *jobs.Subscription, maxAge time.Duration) {
	defer sub.Close()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CleanupOldMetrics(maxAge)
		case job, ok := <-sub.C:
			if !ok {
				return
			}
			c.Observe(job)
		}
	}
}

// GetMetrics retrieves metrics for a job
func (c *Collector) GetMetrics(jobID string) (JobMetrics, bool) {
	c.mu.RLock()
	m, ok := c.metrics[jobID]
	c.mu.RUnlock()
	if !ok {
		return JobMetrics{}, false
	}
	return m.snapshot(), true
}

// Len returns the number of tracked jobs
func (c *Collector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.metrics)
}

// CleanupOldMetrics removes metrics older than the specified duration
func (c *Collector) CleanupOldMetrics(maxAge time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for jobID, m := range c.metrics {
		if now.Sub(m.StartTime) > maxAge {
			delete(c.metrics, jobID)
		}
	}
}
