package bus

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"frigate-commander/database"
	"frigate-commander/jobs"
)

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	statuses []database.JobStatus
}

func (p *recordingPublisher) PublishJSON(subject string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.statuses = append(p.statuses, v.(database.Job).Status)
	return nil
}

func (p *recordingPublisher) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subjects)
}

func TestForwardPublishesInOrder(t *testing.T) {
	broker := jobs.NewBroker()
	pub := &recordingPublisher{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := broker.SubscribeAll()
	done := make(chan struct{})
	go func() {
		Forward(ctx, sub, pub, "commander.jobs")
		close(done)
	}()

	broker.Publish(database.Job{ID: "a1", Status: database.StatusRunning})
	broker.Publish(database.Job{ID: "b2", Status: database.StatusRunning})
	broker.Publish(database.Job{ID: "a1", Status: database.StatusCompleted})

	deadline := time.Now().Add(5 * time.Second)
	for pub.len() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	pub.mu.Lock()
	defer pub.mu.Unlock()
	wantSubjects := []string{"commander.jobs.a1", "commander.jobs.b2", "commander.jobs.a1"}
	if len(pub.subjects) != 3 {
		t.Fatalf("Expected 3 publishes, got %v", pub.subjects)
	}
	for i, want := range wantSubjects {
		if pub.subjects[i] != want {
			t.Errorf("Publish %d: expected %s, got %s", i, want, pub.subjects[i])
		}
	}
	if pub.statuses[2] != database.StatusCompleted {
		t.Errorf("Expected the terminal snapshot last, got %v", pub.statuses)
	}
}

func TestCancelHandler(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		err     error
		wantID  string
	}{
		{"valid", `{"id":"abc123"}`, nil, "abc123"},
		{"cancel fails", `{"id":"zzz"}`, errors.New("job not found"), "zzz"},
		{"malformed", `not json`, nil, ""},
		{"missing id", `{}`, nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			handler := CancelHandler(func(id string) error {
				got = id
				return tt.err
			})
			handler(context.Background(), []byte(tt.payload))
			if got != tt.wantID {
				t.Errorf("Expected cancel of %q, got %q", tt.wantID, got)
			}
		})
	}

	if CancelSubject("commander.jobs") != "commander.jobs.cancel" {
		t.Errorf("Unexpected cancel subject")
	}
}

func TestClientWithoutConnection(t *testing.T) {
	if _, err := Connect("nats://127.0.0.1:1"); err == nil || !strings.Contains(err.Error(), "failed to connect to NATS") {
		t.Errorf("Expected a connect error, got %v", err)
	}

	c := &Client{}
	if err := c.PublishJSON("commander.jobs.a1", make(chan int)); err == nil || !strings.Contains(err.Error(), "failed to encode") {
		t.Errorf("Expected an encode error, got %v", err)
	}
	if err := c.PublishJSON("commander.jobs.a1", database.Job{ID: "a1"}); err == nil || !strings.Contains(err.Error(), "not connected") {
		t.Errorf("Expected a not connected error, got %v", err)
	}
	if _, err := c.SubscribeJSON("commander.jobs.cancel", func(context.Context, []byte) {}); err == nil {
		t.Errorf("Expected subscribe to fail without a connection")
	}
	c.Close()

	var nilClient *Client
	nilClient.Close()
}
