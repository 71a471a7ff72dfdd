package render

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"frigate-commander/sources"
)

// MotionItem is a review item as reported by the NVR
type MotionItem struct {
	Start   float64
	End     *float64
	EventID string
}

// PlaylistEntry is one playable range
type PlaylistEntry struct {
	Start int64
	End   int64
}

// MotionEntries keeps motion-only items (no detection event) whose start lies
// within the optional [from, to] bounds. Missing or inverted ends get defaultDuration.
func MotionEntries(items []MotionItem, from, to *float64, defaultDuration int) []PlaylistEntry {
	if defaultDuration <= 0 {
		defaultDuration = 30
	}
	var entries []PlaylistEntry
	for _, it := range items {
		if it.EventID != "" {
			continue
		}
		if from != nil && it.Start < *from {
			continue
		}
		if to != nil && it.Start > *to {
			continue
		}
		start := int64(it.Start)
		end := start + int64(defaultDuration)
		if it.End != nil && int64(*it.End) > start {
			end = int64(*it.End)
		}
		entries = append(entries, PlaylistEntry{Start: start, End: end})
	}
	return entries
}

// WriteM3U writes an extended M3U playlist pointing every entry at its VOD URL
func WriteM3U(path, camera, baseURL string, entries []PlaylistEntry, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create playlist directory: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create playlist: %v", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "#EXTM3U")
	for _, e := range entries {
		startLocal := time.Unix(e.Start, 0).In(loc)
		endLocal := time.Unix(e.End, 0).In(loc)
		title := fmt.Sprintf("%s %s -> %s", camera, startLocal.Format("2006-01-02 15:04:05 MST"), endLocal.Format("15:04:05 MST"))
		duration := e.End - e.Start
		if duration < 1 {
			duration = 1
		}
		fmt.Fprintf(w, "#EXTINF:%d,%s\n", duration, title)
		fmt.Fprintln(w, sources.StreamURL(baseURL, camera, e.Start, e.End))
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write playlist: %v", err)
	}
	return f.Close()
}
