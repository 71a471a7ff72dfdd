package storage

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// TestNewR2Storage tests the creation of a new R2Storage instance
func TestNewR2Storage(t *testing.T) {
	config := R2Config{
		AccessKey: "test-access-key",
		SecretKey: "test-secret-key",
		AccountID: "test-account-id",
		Bucket:    "test-bucket",
	}

	r2, err := NewR2Storage(config)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if r2.config.Endpoint != "https://test-account-id.r2.cloudflarestorage.com" {
		t.Errorf("Expected endpoint to be set, got: %s", r2.config.Endpoint)
	}
	if r2.config.Region != "auto" {
		t.Errorf("Expected default region auto, got: %s", r2.config.Region)
	}
	if got := r2.GetBaseURL(); got != "https://test-account-id.r2.cloudflarestorage.com/test-bucket" {
		t.Errorf("Unexpected base URL %s", got)
	}

	config.Endpoint = "https://custom.endpoint.com"
	config.BaseURL = "https://media.example.com/"
	r2, err = NewR2Storage(config)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if r2.config.Endpoint != "https://custom.endpoint.com" {
		t.Errorf("Expected custom endpoint, got: %s", r2.config.Endpoint)
	}

	url := r2.PublicURL("renders/yard/abc/out.mp4")
	if url != "https://media.example.com/renders/yard/abc/out.mp4" {
		t.Errorf("Unexpected public URL %s", url)
	}
	if key, ok := r2.KeyFromURL(url); !ok || key != "renders/yard/abc/out.mp4" {
		t.Errorf("Expected key round trip, got %q %v", key, ok)
	}
	if _, ok := r2.KeyFromURL("https://elsewhere.example.com/x.mp4"); ok {
		t.Errorf("Expected foreign URL to be rejected")
	}
}

func TestContentTypeAndKey(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/out/yard-animals-2024-05-01-fullday.mp4", "video/mp4"},
		{"/out/yard-motion-abc.m3u", "application/vnd.apple.mpegurl"},
		{"/out/manifest.JSON", "application/json"},
		{"/out/unknown.bin", "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(filepath.Base(tt.path), func(t *testing.T) {
			if got := ContentType(tt.path); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}

	if key := ObjectKey("yard", "abc123", "/data/output/clip.mp4"); key != "renders/yard/abc123/clip.mp4" {
		t.Errorf("Unexpected object key %s", key)
	}
}

type bucketRecorder struct {
	mu       sync.Mutex
	requests []string
	bodies   map[string]string
	status   int
}

func (b *bucketRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	b.mu.Lock()
	b.requests = append(b.requests, r.Method+" "+r.URL.Path)
	if r.Method == http.MethodPut {
		b.bodies[r.URL.Path] = string(body)
	}
	status := b.status
	b.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>denied</Message></Error>`)
		return
	}
	if r.Method == http.MethodDelete {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
	w.WriteHeader(http.StatusOK)
}

func (b *bucketRecorder) snapshot() ([]string, map[string]string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bodies := make(map[string]string, len(b.bodies))
	for k, v := range b.bodies {
		bodies[k] = v
	}
	return append([]string(nil), b.requests...), bodies
}

func newTestBucket(t *testing.T, rec *bucketRecorder) *R2Storage {
	t.Helper()
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)
	r2, err := NewR2Storage(R2Config{
		AccessKey: "key",
		SecretKey: "secret",
		Bucket:    "renders-bucket",
		Endpoint:  srv.URL,
		BaseURL:   "https://media.example.com",
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	r2.retryDelay = time.Millisecond
	return r2
}

func TestUploadAndDelete(t *testing.T) {
	rec := &bucketRecorder{bodies: map[string]string{}}
	r2 := newTestBucket(t, rec)

	local := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(local, []byte("video-bytes"), 0644); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	url, err := r2.UploadFile(local, "renders/yard/abc/clip.mp4")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if url != "https://media.example.com/renders/yard/abc/clip.mp4" {
		t.Errorf("Unexpected URL %s", url)
	}
	requests, bodies := rec.snapshot()
	if got := bodies["/renders-bucket/renders/yard/abc/clip.mp4"]; got != "video-bytes" {
		t.Errorf("Expected uploaded body, got %q (requests %v)", got, requests)
	}

	if err := r2.DeleteObject("renders/yard/abc/clip.mp4"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	requests, _ = rec.snapshot()
	last := requests[len(requests)-1]
	if last != "DELETE /renders-bucket/renders/yard/abc/clip.mp4" {
		t.Errorf("Unexpected delete request %s", last)
	}
}

func TestUploadGivesUpAfterRetries(t *testing.T) {
	rec := &bucketRecorder{bodies: map[string]string{}, status: http.StatusForbidden}
	r2 := newTestBucket(t, rec)

	local := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(local, []byte("video-bytes"), 0644); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := r2.UploadFile(local, "renders/yard/abc/clip.mp4"); err == nil {
		t.Fatalf("Expected upload to fail")
	}
	if requests, _ := rec.snapshot(); len(requests) < maxUploadAttempts {
		t.Errorf("Expected %d attempts, got %v", maxUploadAttempts, requests)
	}

	if _, err := r2.UploadFile(filepath.Join(t.TempDir(), "missing.mp4"), "x"); err == nil {
		t.Errorf("Expected missing file to fail")
	}
}
