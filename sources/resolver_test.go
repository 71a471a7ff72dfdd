package sources

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"frigate-commander/recording"
	"frigate-commander/segments"
)

func chunkIndex(start, step int64, n int) []recording.Entry {
	entries := make([]recording.Entry, n)
	for i := range entries {
		ts := start + int64(i)*step
		entries[i] = recording.Entry{Timestamp: ts, Path: filepath.Join("/rec", time.Unix(ts, 0).UTC().Format("15.04.05")+".mp4")}
	}
	return entries
}

func TestFindFilesTolerance(t *testing.T) {
	cadence := 30
	// chunks at 1000, 1030, ..., 1270
	index := chunkIndex(1000, 30, 10)

	tests := []struct {
		name      string
		seg       segments.Segment
		wantFiles int
		wantErr   string
	}{
		{"inside coverage", segments.Segment{Start: 1010, End: 1100}, 4, ""},
		{"start exactly on chunk", segments.Segment{Start: 1030, End: 1031}, 1, ""},
		{"before first chunk", segments.Segment{Start: 900, End: 1100}, 0, "no chunk starts before segment start"},
		{"end within four cadences of last chunk", segments.Segment{Start: 1200, End: 1270 + 120}, 4, ""},
		{"end beyond tolerance", segments.Segment{Start: 1200, End: 1270 + 121}, 0, "end beyond chunks"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files, reason := FindFiles(index, &cadence, tt.seg, DefaultStartSlop, DefaultEndSlop)
			if tt.wantErr != "" {
				if files != nil || !strings.Contains(reason, tt.wantErr) {
					t.Errorf("Expected rejection %q, got files=%v reason=%q", tt.wantErr, files, reason)
				}
				return
			}
			if reason != "" {
				t.Fatalf("Unexpected reason: %s", reason)
			}
			if len(files) != tt.wantFiles {
				t.Errorf("Expected %d files, got %d", tt.wantFiles, len(files))
			}
		})
	}
}

func TestFindFilesGapBeforeStart(t *testing.T) {
	cadence := 30
	// a two hour hole after 1060
	index := append(chunkIndex(1000, 30, 3), chunkIndex(8260, 30, 3)...)

	within, reason := FindFiles(index, &cadence, segments.Segment{Start: 1060 + 60, End: 1130}, 2, 4)
	if within == nil {
		t.Fatalf("Expected start 60s after the matched chunk to resolve, got %q", reason)
	}

	files, reason := FindFiles(index, &cadence, segments.Segment{Start: 1060 + 61, End: 1130}, 2, 4)
	if files != nil {
		t.Fatalf("Expected gap rejection, got %v", files)
	}
	if !strings.HasPrefix(reason, "gap before start") {
		t.Errorf("Expected gap reason, got %q", reason)
	}
}

func TestFindFilesWithoutCadence(t *testing.T) {
	index := chunkIndex(1000, 600, 2)
	files, reason := FindFiles(index, nil, segments.Segment{Start: 1500, End: 5000}, 2, 4)
	if reason != "" || len(files) != 2 {
		t.Errorf("Expected both chunks without tolerance checks, got %v %q", files, reason)
	}
}

func TestStreamURL(t *testing.T) {
	got := StreamURL("http://nvr:5000/", "feeder", 100, 200)
	want := "http://nvr:5000/vod/feeder/start/100/end/200/master.m3u8"
	if got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func writeHour(t *testing.T, root, camera string, hour time.Time, step, count int) {
	t.Helper()
	dir := filepath.Join(root, hour.Format("2006-01-02"), hour.Format("15"), camera)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	for i := 0; i < count; i++ {
		off := i * step
		name := time.Unix(int64(off), 0).UTC().Format("04.05") + ".mp4"
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatalf("Failed to write chunk: %v", err)
		}
	}
}

func TestResolveMixedSources(t *testing.T) {
	root := t.TempDir()
	hour := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	// 10:00:00 .. 10:09:50 every 10s, then nothing
	writeHour(t, root, "feeder", hour, 10, 60)

	window := segments.Window{After: hour.Unix(), Before: hour.Add(time.Hour).Unix(), Tag: segments.ModeFullDay}
	segs := []segments.Segment{
		{Start: hour.Unix() + 100, End: hour.Unix() + 150},
		{Start: hour.Unix() + 1800, End: hour.Unix() + 1900},
	}

	m := Resolve("feeder", window, segs, Options{Roots: []string{root}, BaseURL: "http://nvr:5000"})
	if m.Stats.DiskSegments != 1 || m.Stats.StreamSegments != 1 {
		t.Fatalf("Expected 1 disk and 1 stream segment, got %+v", m.Stats)
	}
	if m.Segments[0].Source.Type != TypeDisk || len(m.Segments[0].Source.Files) != 5 {
		t.Errorf("Expected first segment on disk with 5 files, got %+v", m.Segments[0].Source)
	}
	stream := m.Segments[1].Source
	if stream.Type != TypeStream || stream.Reason == "" {
		t.Errorf("Expected stream fallback with a reason, got %+v", stream)
	}
	if m.Stats.Cadence == nil || *m.Stats.Cadence != 10 {
		t.Errorf("Expected cadence 10, got %v", m.Stats.Cadence)
	}
	if m.FirstStreamURL() != stream.URL {
		t.Errorf("Expected first stream url %s, got %s", stream.URL, m.FirstStreamURL())
	}

	diskOnly := Resolve("feeder", window, segs, Options{Mode: ModeDiskOnly, Roots: []string{root}, BaseURL: "http://nvr:5000"})
	if diskOnly.Stats.SegmentsSkipped != 1 || len(diskOnly.Segments) != 1 || len(diskOnly.Skipped) != 1 {
		t.Errorf("Expected the uncovered segment to be skipped, got %+v", diskOnly.Stats)
	}
}

func TestResolveFallsBackWhenDiskEmpty(t *testing.T) {
	window := segments.Window{After: 0, Before: 1000}
	segs := []segments.Segment{{Start: 10, End: 20}, {Start: 50, End: 60}}

	m := Resolve("cam", window, segs, Options{Roots: []string{"/does/not/exist"}, BaseURL: "http://nvr"})
	if m.Stats.StreamSegments != 2 {
		t.Fatalf("Expected whole run on stream, got %+v", m.Stats)
	}
	for _, e := range m.Segments {
		if !strings.Contains(e.Source.Reason, "recordings path not found") {
			t.Errorf("Expected disk failure reason, got %q", e.Source.Reason)
		}
	}

	forced := Resolve("cam", window, segs, Options{Mode: ModeStream, BaseURL: "http://nvr"})
	if forced.Segments[0].Source.Reason != "source=stream" {
		t.Errorf("Expected forced stream reason, got %q", forced.Segments[0].Source.Reason)
	}
	if forced.Stats.DiskIndexFiles != 0 {
		t.Errorf("Expected no disk scan in stream mode")
	}
}

func TestInputsDropsConsecutiveDuplicates(t *testing.T) {
	m := &Manifest{Segments: []SourceEntry{
		{Source: Source{Type: TypeDisk, Files: []string{"a.mp4", "b.mp4"}}},
		{Source: Source{Type: TypeDisk, Files: []string{"b.mp4", "c.mp4"}}},
		{Source: Source{Type: TypeStream, URL: "http://x/master.m3u8"}},
		{Source: Source{Type: TypeDisk, Files: []string{"a.mp4"}}},
	}}
	want := []string{"a.mp4", "b.mp4", "c.mp4", "http://x/master.m3u8", "a.mp4"}
	if got := m.Inputs(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestStreamChunks(t *testing.T) {
	chunks := StreamChunks("http://nvr", "yard", 0, 150, 60, nil)
	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(chunks))
	}
	if chunks[2].Path != "http://nvr/vod/yard/start/120/end/150/master.m3u8" {
		t.Errorf("Expected last chunk clamped to window end, got %s", chunks[2].Path)
	}

	windowed := StreamChunks("http://nvr", "yard", 0, 300, 60, []segments.Segment{{Start: 100, End: 200}})
	if len(windowed) != 1 || windowed[0].Timestamp != 120 {
		t.Errorf("Expected only the chunk at 120, got %v", windowed)
	}

	entries := []recording.Entry{{Timestamp: 50}, {Timestamp: 150}, {Timestamp: 200}}
	if got := FilterWindows(entries, []segments.Segment{{Start: 100, End: 200}}); len(got) != 1 || got[0].Timestamp != 150 {
		t.Errorf("Expected half-open window filter, got %v", got)
	}
}
