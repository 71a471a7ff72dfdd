package render

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"

	"frigate-commander/recording"
)

func TestFrameCachePath(t *testing.T) {
	got := FrameCachePath("/cache", "/media/frigate/recordings/2024-05-01/13/feeder/05.30.mp4")
	want := filepath.Join("/cache", "feeder", "2024-05-01", "13-05-30.webp")
	if got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}

	other := FrameCachePath("/cache", "http://nvr/vod/feeder/start/1/end/2/master.m3u8")
	if !strings.HasPrefix(other, filepath.Join("/cache", "_other")) || !strings.HasSuffix(other, ".webp") {
		t.Errorf("Expected hashed fallback, got %s", other)
	}
	if other != FrameCachePath("/cache", "http://nvr/vod/feeder/start/1/end/2/master.m3u8") {
		t.Error("Expected fallback path to be stable")
	}
}

func TestSampleByInterval(t *testing.T) {
	var entries []recording.Entry
	for ts := int64(0); ts < 120; ts += 10 {
		entries = append(entries, recording.Entry{Timestamp: 1000 + ts, Path: filepath.Join("/rec", time.Unix(ts, 0).UTC().Format("04.05")+".mp4")})
	}

	every20 := SampleByInterval(entries, 1000, 20)
	every60 := SampleByInterval(entries, 1000, 60)

	var got []int64
	for _, e := range every60 {
		got = append(got, e.Timestamp)
	}
	if !reflect.DeepEqual(got, []int64{1000, 1060}) {
		t.Errorf("Expected buckets at 1000 and 1060, got %v", got)
	}

	// coarser sampling is a subset of finer sampling
	fine := make(map[int64]bool)
	for _, e := range every20 {
		fine[e.Timestamp] = true
	}
	for _, e := range every60 {
		if !fine[e.Timestamp] {
			t.Errorf("Expected %d in 20s sample", e.Timestamp)
		}
	}

	if len(SampleByInterval(entries, 1000, 0)) != len(entries) {
		t.Error("Expected zero interval to keep every entry")
	}
}

// fakeFFmpeg writes a script that touches its last argument, or fails for inputs containing "bad"
func fakeFFmpeg(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script ffmpeg stub needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := `#!/bin/sh
case "$*" in
  *bad*) exit 1 ;;
esac
for last; do :; done
echo frame > "$last"
`
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("Failed to write ffmpeg stub: %v", err)
	}
	return path
}

func TestFrameExtractor(t *testing.T) {
	ffmpeg := fakeFFmpeg(t)
	cache := t.TempDir()
	inputs := []string{
		"/rec/2024-05-01/13/feeder/00.00.mp4",
		"/rec/2024-05-01/13/feeder/bad.mp4",
		"/rec/2024-05-01/13/feeder/00.10.mp4",
	}

	var log strings.Builder
	fe := &FrameExtractor{FFmpegPath: ffmpeg, CacheDir: cache, Workers: 2, Output: &log}

	outDir := filepath.Join(t.TempDir(), "frames")
	n, err := fe.Extract(context.Background(), inputs, outDir)
	if err != nil {
		t.Fatalf("Failed to extract frames: %v", err)
	}
	if n != 2 {
		t.Fatalf("Expected 2 frames, got %d", n)
	}
	for _, name := range []string{"frame_00000000.webp", "frame_00000001.webp"} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Errorf("Expected %s: %v", name, err)
		}
	}
	if !strings.Contains(log.String(), "Extracting first frame from 3 files") || !strings.Contains(log.String(), "Progress: 3/3") {
		t.Errorf("Unexpected extractor output: %s", log.String())
	}
	if _, err := os.Stat(filepath.Join(cache, "feeder", "2024-05-01", "13-00-10.webp")); err != nil {
		t.Errorf("Expected frame to be cached: %v", err)
	}

	log.Reset()
	n, err = fe.Extract(context.Background(), inputs, filepath.Join(t.TempDir(), "again"))
	if err != nil || n != 2 {
		t.Fatalf("Expected 2 frames on second run, got %d (%v)", n, err)
	}
	if !strings.Contains(log.String(), "Cache hits: 2/2") {
		t.Errorf("Expected cache hits, got %s", log.String())
	}
}

func TestMotionEntriesAndPlaylist(t *testing.T) {
	end := 1130.0
	inverted := 900.0
	from := 1000.0
	items := []MotionItem{
		{Start: 1100, End: &end},
		{Start: 1200, EventID: "abc"},
		{Start: 1300},
		{Start: 1400, End: &inverted},
		{Start: 500},
	}

	entries := MotionEntries(items, &from, nil, 30)
	want := []PlaylistEntry{{1100, 1130}, {1300, 1330}, {1400, 1430}}
	if !reflect.DeepEqual(entries, want) {
		t.Fatalf("Expected %v, got %v", want, entries)
	}

	path := filepath.Join(t.TempDir(), "motion.m3u")
	if err := WriteM3U(path, "feeder", "http://nvr:5000", entries, time.UTC); err != nil {
		t.Fatalf("Failed to write playlist: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read playlist: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 7 || lines[0] != "#EXTM3U" {
		t.Fatalf("Unexpected playlist: %q", data)
	}
	if lines[1] != "#EXTINF:30,feeder 1970-01-01 00:18:20 UTC -> 00:18:50 UTC" {
		t.Errorf("Unexpected EXTINF line: %s", lines[1])
	}
	if lines[2] != "http://nvr:5000/vod/feeder/start/1100/end/1130/master.m3u8" {
		t.Errorf("Unexpected URL line: %s", lines[2])
	}
}
