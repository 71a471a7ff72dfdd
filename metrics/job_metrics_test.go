package metrics

import (
	"context"
	"testing"
	"time"

	"frigate-commander/database"
	"frigate-commander/jobs"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func snapshot(status database.JobStatus, phase string) database.Job {
	return database.Job{ID: "job1", Kind: database.KindTimelapse, Status: status, Progress: database.Progress{Phase: phase}}
}

func TestCollectorPhaseDurations(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	c := NewCollector()
	c.now = clock.now

	steps := []struct {
		after time.Duration
		job   database.Job
	}{
		{0, snapshot(database.StatusRunning, "starting")},
		{2 * time.Second, snapshot(database.StatusRunning, "extract")},
		{10 * time.Second, snapshot(database.StatusRunning, "encode")},
		{5 * time.Second, snapshot(database.StatusRunning, "encode")},
		{3 * time.Second, snapshot(database.StatusRunning, "extract")},
		{1 * time.Second, snapshot(database.StatusCompleted, "done")},
		{time.Minute, snapshot(database.StatusRunning, "late")},
	}
	for _, s := range steps {
		clock.advance(s.after)
		c.Observe(s.job)
	}

	m, ok := c.GetMetrics("job1")
	if !ok {
		t.Fatalf("Expected metrics for job1")
	}
	want := map[string]time.Duration{
		"starting": 2 * time.Second,
		"extract":  11 * time.Second,
		"encode":   8 * time.Second,
	}
	if len(m.Phases) != len(want) {
		t.Fatalf("Expected %d phases, got %+v", len(want), m.Phases)
	}
	for _, p := range m.Phases {
		if want[p.Phase] != p.Duration {
			t.Errorf("Phase %s: expected %v, got %v", p.Phase, want[p.Phase], p.Duration)
		}
	}
	if m.TotalDuration != 21*time.Second || m.Status != "completed" {
		t.Errorf("Unexpected totals %v %s", m.TotalDuration, m.Status)
	}
	if m.Phases[0].Phase != "starting" {
		t.Errorf("Expected phases in first-seen order, got %+v", m.Phases)
	}

	clock.advance(48 * time.Hour)
	c.CleanupOldMetrics(24 * time.Hour)
	if c.Len() != 0 {
		t.Errorf("Expected old metrics to be removed")
	}
}

func TestCollectorRun(t *testing.T) {
	broker := jobs.NewBroker()
	c := NewCollector()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	sub := broker.SubscribeAll()
	go func() {
		c.Run(ctx, sub, time.Hour)
		close(done)
	}()

	broker.Publish(snapshot(database.StatusRunning, "render"))
	broker.Publish(snapshot(database.StatusFailed, "render"))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if m, ok := c.GetMetrics("job1"); ok && m.Status == "failed" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	m, ok := c.GetMetrics("job1")
	if !ok || m.Status != "failed" {
		t.Errorf("Expected failed metrics, got %+v", m)
	}
}
