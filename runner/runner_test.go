package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"frigate-commander/database"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("runner tests need /bin/sh")
	}
}

type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *lineRecorder) add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *lineRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func TestRunCapturesCombinedOutputInOrder(t *testing.T) {
	requireShell(t)
	r := NewRunner(time.Second, 0)
	rec := &lineRecorder{}
	var pid int

	res, err := r.Run(context.Background(), Command{
		Path: "/bin/sh",
		Args: []string{"-c", `echo one; echo two 1>&2; printf 'three\rfour\n'; echo; echo five`},
	}, func(p int) { pid = p }, rec.add)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if res.ExitCode != 0 || pid == 0 || res.PID != pid {
		t.Errorf("Expected exit 0 with pid, got %+v (onStart pid %d)", res, pid)
	}
	want := []string{"one", "two", "three", "four", "five"}
	if got := rec.all(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestRunExitError(t *testing.T) {
	requireShell(t)
	r := NewRunner(time.Second, 0)

	res, err := r.Run(context.Background(), Command{Path: "/bin/sh", Args: []string{"-c", "echo boom; exit 3"}}, nil, nil)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != 3 {
		t.Fatalf("Expected exit error code 3, got %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("Expected result exit code 3, got %d", res.ExitCode)
	}
	if exitErr.Error() != "Process exited with code 3" {
		t.Errorf("Unexpected message: %s", exitErr.Error())
	}
}

func TestRunStartFailure(t *testing.T) {
	r := NewRunner(time.Second, 0)
	if _, err := r.Run(context.Background(), Command{Path: filepath.Join(t.TempDir(), "missing")}, nil, nil); err == nil {
		t.Fatal("Expected start error")
	}
}

func TestRunCancelTerminatesProcess(t *testing.T) {
	requireShell(t)
	r := NewRunner(2*time.Second, 0)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := r.Run(ctx, Command{Path: "/bin/sh", Args: []string{"-c", "sleep 30"}}, nil, nil)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Expected ErrCancelled, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("Expected prompt termination, took %s", time.Since(start))
	}
}

func TestRunCancelKillsAfterGrace(t *testing.T) {
	requireShell(t)
	r := NewRunner(300*time.Millisecond, 0)
	ctx, cancel := context.WithCancel(context.Background())

	rec := &lineRecorder{}
	go func() {
		// wait until the trap is installed
		for i := 0; i < 100; i++ {
			if len(rec.all()) > 0 {
				break
			}
			time.Sleep(20 * time.Millisecond)
		}
		cancel()
	}()

	start := time.Now()
	_, err := r.Run(ctx, Command{
		Path: "/bin/sh",
		Args: []string{"-c", `trap '' TERM; echo ready; while true; do sleep 1; done`},
	}, nil, rec.add)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Expected ErrCancelled, got %v", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Errorf("Expected SIGKILL after grace, took %s", time.Since(start))
	}
}

func TestRunAlreadyCancelled(t *testing.T) {
	r := NewRunner(time.Second, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	started := false
	if _, err := r.Run(ctx, Command{Path: "/bin/sh"}, func(int) { started = true }, nil); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Expected ErrCancelled, got %v", err)
	}
	if started {
		t.Error("Expected no process to be started")
	}
}

func TestRunTranslatesFFmpegProgress(t *testing.T) {
	requireShell(t)
	r := NewRunner(time.Second, time.Hour)
	rec := &lineRecorder{}

	script := `echo "Running: ffmpeg"
echo out_time_us=30000000
echo speed=2.5x
echo progress=continue
echo out_time_us=60000000
echo progress=end`
	_, err := r.Run(context.Background(), Command{
		Path:            "/bin/sh",
		Args:            []string{"-c", script},
		FFmpegProgress:  true,
		ExpectedSeconds: 120,
	}, nil, rec.add)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := []string{"Running: ffmpeg", "Progress: 100.0% time=00:01:00 speed=2.5x"}
	if got := rec.all(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestFFmpegProgressThrottle(t *testing.T) {
	clock := time.Unix(0, 0)
	p := NewFFmpegProgress(200, 10*time.Second)
	p.now = func() time.Time { return clock }
	p.lastEmit = clock

	feed := func(lines ...string) []string {
		var out []string
		for _, l := range lines {
			s, ok := p.Feed(l)
			if !ok {
				t.Fatalf("Expected %q to be consumed", l)
			}
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	}

	if got := feed("out_time_ms=90000000", "speed=N/A", "progress=continue"); len(got) != 0 {
		t.Errorf("Expected throttled output, got %v", got)
	}
	clock = clock.Add(11 * time.Second)
	got := feed("bitrate= 859.3kbits/s", "progress=continue")
	if len(got) != 1 || got[0] != "Progress:  45.0% time=00:01:30 speed=?" {
		t.Errorf("Unexpected progress line: %v", got)
	}

	if _, ok := p.Feed("Stream mapping:"); ok {
		t.Error("Expected non key=value line to pass through")
	}
}

func TestParseProgress(t *testing.T) {
	start := database.Progress{Phase: "starting", Percent: 12, Message: "Starting..."}
	tests := []struct {
		name  string
		cur   database.Progress
		line  string
		phase string
		pct   float64
	}{
		{"percent keeps phase", start, "Progress: 45.0% time=00:01:23 speed=12.3x", "starting", 45},
		{"percent default phase", database.Progress{}, "Progress: 45.0%", "render", 45},
		{"percent capped", start, "Progress: 180%", "starting", 100},
		{"count", database.Progress{Phase: "extract"}, "  Progress: 1234/5678 (success=1234)", "extract", 1234.0 / 5678.0 * 100},
		{"count default phase", database.Progress{}, "Progress: 1/4", "process", 25},
		{"extract", start, "Extracting first frame from 42 files (workers=8)...", "extract", 0},
		{"encode keeps percent", start, "Encoding /out/a.mp4...", "encode", 12},
		{"segments", start, "Segments found: 12", "segments", 0},
		{"concat", start, "Concat:  /out/.concat_x.txt entries=3", "concat", 0},
		{"render", start, "Running: ffmpeg -y", "render", 0},
		{"done", start, "DONE: /out/a.mp4", "complete", 100},
		{"error keeps percent", start, "ffprobe: Error opening input", "error", 12},
		{"failed", start, "upload failed", "error", 12},
		{"unmatched", start, "Camera:  feeder", "starting", 12},
		{"bracketed", start, "[concat @ 0x1] Impossible to open", "concat", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseProgress(DefaultMatchers, tt.line, tt.cur)
			if got.Phase != tt.phase {
				t.Errorf("Expected phase %q, got %q", tt.phase, got.Phase)
			}
			if diff := got.Percent - tt.pct; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Expected percent %v, got %v", tt.pct, got.Percent)
			}
			if got.Message != strings.TrimSpace(tt.line) {
				t.Errorf("Expected message %q, got %q", tt.line, got.Message)
			}
		})
	}

	if got := ParseProgress(DefaultMatchers, "   ", start); got != start {
		t.Errorf("Expected blank line to keep progress, got %+v", got)
	}
}

func TestOutputPathAndTracker(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.mp4")
	second := filepath.Join(dir, "second.m3u")
	for _, p := range []string{first, second} {
		if err := os.WriteFile(p, nil, 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", p, err)
		}
	}

	if OutputPath("Output:  "+filepath.Join(dir, "missing.mp4")) != "" {
		t.Error("Expected missing files to be ignored")
	}
	if OutputPath("DONE: "+first) != first {
		t.Error("Expected DONE marker to resolve")
	}
	if OutputPath("Wrote 12 entries to "+second) != second {
		t.Error("Expected playlist marker to resolve")
	}

	tr := NewTracker(database.Progress{Phase: "starting", Message: "Starting..."})
	changed, notify := tr.Feed("Camera:  feeder")
	if !changed || notify {
		t.Errorf("Expected message-only change, got changed=%v notify=%v", changed, notify)
	}
	changed, notify = tr.Feed("Output: " + first)
	if !changed || notify {
		t.Errorf("Expected message-only change for output line, got changed=%v notify=%v", changed, notify)
	}
	if _, notify = tr.Feed("Progress: 50.0%"); !notify {
		t.Error("Expected percent change to notify")
	}
	tr.Feed("Wrote 3 entries to " + second)
	if tr.Output != second {
		t.Errorf("Expected last marker to win, got %s", tr.Output)
	}
}
