package sources

import (
	"frigate-commander/recording"
	"frigate-commander/segments"
)

// StreamChunks cuts [after, before) into fixed-size VOD requests. When windows
// is non-empty only chunks starting inside one of them are kept.
func StreamChunks(baseURL, camera string, after, before, chunkSeconds int64, windows []segments.Segment) []recording.Entry {
	if chunkSeconds <= 0 {
		chunkSeconds = 60
	}
	var chunks []recording.Entry
	for ts := after; ts < before; ts += chunkSeconds {
		if len(windows) > 0 && !inWindows(ts, windows) {
			continue
		}
		end := ts + chunkSeconds
		if end > before {
			end = before
		}
		chunks = append(chunks, recording.Entry{Timestamp: ts, Path: StreamURL(baseURL, camera, ts, end)})
	}
	return chunks
}

// FilterWindows keeps the entries whose timestamp falls inside one of windows
func FilterWindows(entries []recording.Entry, windows []segments.Segment) []recording.Entry {
	if len(windows) == 0 {
		return entries
	}
	var kept []recording.Entry
	for _, e := range entries {
		if inWindows(e.Timestamp, windows) {
			kept = append(kept, e)
		}
	}
	return kept
}

func inWindows(ts int64, windows []segments.Segment) bool {
	for _, w := range windows {
		if ts >= w.Start && ts < w.End {
			return true
		}
	}
	return false
}
