package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"frigate-commander/database"
	"frigate-commander/jobs"
)

type fakeArchiver struct {
	mu      sync.Mutex
	uploads map[string]string
	deleted []string
}

func (f *fakeArchiver) UploadFile(localPath, remotePath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads[remotePath] = localPath
	return "https://media.example.com/" + remotePath, nil
}

func (f *fakeArchiver) DeleteObject(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeArchiver) KeyFromURL(publicURL string) (string, bool) {
	const prefix = "https://media.example.com/"
	if !strings.HasPrefix(publicURL, prefix) {
		return "", false
	}
	return strings.TrimPrefix(publicURL, prefix), true
}

func (f *fakeArchiver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

func newArchiveDB(t *testing.T) *database.SQLiteDB {
	t.Helper()
	db, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "commander.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func completedJob(t *testing.T, db database.Database, id, output string) database.Job {
	t.Helper()
	now := time.Now()
	job := database.Job{
		ID:          id,
		Kind:        database.KindMontage,
		Status:      database.StatusCompleted,
		Camera:      "yard",
		CreatedAt:   now,
		CompletedAt: &now,
		Arguments:   json.RawMessage(`{}`),
		OutputFile:  output,
	}
	if err := db.CreateJob(job); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	return job
}

func TestArchiveStoresURL(t *testing.T) {
	db := newArchiveDB(t)
	archiver := &fakeArchiver{uploads: map[string]string{}}
	w := NewArchiveWorker(db, archiver, jobs.NewBroker())

	output := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(output, []byte("video"), 0644); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	job := completedJob(t, db, "abc123", output)

	url, err := w.Archive(job)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if url != "https://media.example.com/renders/yard/abc123/clip.mp4" {
		t.Errorf("Unexpected URL %s", url)
	}
	stored, _ := db.GetJob("abc123")
	if stored.ArchiveURL != url {
		t.Errorf("Expected archive URL to be stored, got %q", stored.ArchiveURL)
	}

	missing := completedJob(t, db, "gone", filepath.Join(t.TempDir(), "missing.mp4"))
	if url, err := w.Archive(missing); err != nil || url != "" {
		t.Errorf("Expected missing outputs to be skipped, got %q %v", url, err)
	}

	stored.ArchiveURL = url
	w.Forget(*stored)
	w.Forget(database.Job{ID: "x", ArchiveURL: "https://elsewhere.example.com/a.mp4"})
	if len(archiver.deleted) != 1 || archiver.deleted[0] != "renders/yard/abc123/clip.mp4" {
		t.Errorf("Expected one deletion, got %v", archiver.deleted)
	}
}

func TestArchiveWorkerFollowsBroker(t *testing.T) {
	db := newArchiveDB(t)
	archiver := &fakeArchiver{uploads: map[string]string{}}
	broker := jobs.NewBroker()

	dir := t.TempDir()
	backlogOut := filepath.Join(dir, "old.mp4")
	liveOut := filepath.Join(dir, "new.mp4")
	for _, p := range []string{backlogOut, liveOut} {
		if err := os.WriteFile(p, []byte("video"), 0644); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	completedJob(t, db, "backlog", backlogOut)

	w := NewArchiveWorker(db, archiver, broker)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	live := completedJob(t, db, "live", liveOut)
	broker.Publish(database.Job{ID: "running", Status: database.StatusRunning, OutputFile: liveOut})
	broker.Publish(live)

	deadline := time.Now().Add(5 * time.Second)
	for archiver.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := archiver.count(); n != 2 {
		t.Fatalf("Expected backlog and live job to be archived, got %d uploads", n)
	}

	for _, id := range []string{"backlog", "live"} {
		deadline := time.Now().Add(5 * time.Second)
		for {
			job, _ := db.GetJob(id)
			if job.ArchiveURL != "" {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("Expected job %s to get an archive URL", id)
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}
