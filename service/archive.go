package service

import (
	"context"
	"log"
	"os"
	"sync"

	"frigate-commander/database"
	"frigate-commander/jobs"
	"frigate-commander/storage"
)

// Archiver is the object store finished outputs are copied to
type Archiver interface {
	UploadFile(localPath, remotePath string) (string, error)
	DeleteObject(key string) error
	KeyFromURL(publicURL string) (string, bool)
}

// ArchiveWorker uploads the output of every completed job and records the
// public URL on the job
type ArchiveWorker struct {
	db       database.Database
	archiver Archiver
	sub      *jobs.Subscription

	mu      sync.Mutex
	pending map[string]bool
	queue   chan database.Job
}

// NewArchiveWorker subscribes to every job snapshot of broker
func NewArchiveWorker(db database.Database, archiver Archiver, broker *jobs.Broker) *ArchiveWorker {
	return &ArchiveWorker{
		db:       db,
		archiver: archiver,
		sub:      broker.SubscribeAll(),
		pending:  make(map[string]bool),
		queue:    make(chan database.Job, 64),
	}
}

// Start runs the worker until ctx is done. Completed jobs that were never
// archived are queued first.
func (w *ArchiveWorker) Start(ctx context.Context) {
	go w.upload(ctx)
	go func() {
		defer w.sub.Close()
		log.Println("[R2] Starting archive worker")

		backlog, err := w.db.GetJobsByStatus(database.StatusCompleted)
		if err != nil {
			log.Printf("[R2] Error fetching completed jobs: %v", err)
		}
		for _, job := range backlog {
			w.enqueue(ctx, job)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case job, ok := <-w.sub.C:
				if !ok {
					return
				}
				w.enqueue(ctx, job)
			}
		}
	}()
}

func (w *ArchiveWorker) enqueue(ctx context.Context, job database.Job) {
	if job.Status != database.StatusCompleted || job.OutputFile == "" || job.ArchiveURL != "" {
		return
	}
	w.mu.Lock()
	if w.pending[job.ID] {
		w.mu.Unlock()
		return
	}
	w.pending[job.ID] = true
	w.mu.Unlock()

	select {
	case w.queue <- job:
	case <-ctx.Done():
	}
}

// upload archives one job at a time to keep a single connection busy
func (w *ArchiveWorker) upload(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-w.queue:
			if _, err := w.Archive(job); err != nil {
				log.Printf("[R2] Error archiving job %s: %v", job.ID, err)
			}
			w.mu.Lock()
			delete(w.pending, job.ID)
			w.mu.Unlock()
		}
	}
}

// Archive uploads the output of job and stores its URL. Jobs whose output
// is gone are skipped.
func (w *ArchiveWorker) Archive(job database.Job) (string, error) {
	if _, err := os.Stat(job.OutputFile); err != nil {
		log.Printf("[R2] Output of job %s is missing, skipping: %v", job.ID, err)
		return "", nil
	}

	url, err := w.archiver.UploadFile(job.OutputFile, storage.ObjectKey(job.Camera, job.ID, job.OutputFile))
	if err != nil {
		return "", err
	}
	if err := w.db.UpdateJobArchiveURL(job.ID, url); err != nil {
		return "", err
	}
	log.Printf("[R2] Archived job %s to %s", job.ID, url)
	return url, nil
}

// Forget removes the archived copy of a deleted job
func (w *ArchiveWorker) Forget(job database.Job) {
	if job.ArchiveURL == "" {
		return
	}
	key, ok := w.archiver.KeyFromURL(job.ArchiveURL)
	if !ok {
		return
	}
	if err := w.archiver.DeleteObject(key); err != nil {
		log.Printf("[R2] Error deleting archive of job %s: %v", job.ID, err)
	}
}
