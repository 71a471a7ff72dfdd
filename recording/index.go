package recording

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Slack added on both sides of the scan window; chunks can start up to an hour early.
const scanSlack = 3600

// Maximum delta between two chunks that still counts towards the cadence estimate.
const maxCadenceDelta = 60

// Entry is one recording chunk on disk
type Entry struct {
	Timestamp int64  `json:"ts"`
	Path      string `json:"path"`
}

// Index is a sorted per-camera timeline of chunks inside a window
type Index struct {
	Camera  string   `json:"camera"`
	Entries []Entry  `json:"entries"`
	Cadence *int     `json:"cadence"` // nil when it cannot be inferred
	Roots   []string `json:"roots"`
}

// Len returns the number of indexed chunks
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.Entries)
}

// parseChunkName turns "1700000000.mp4" or "MM.SS.mp4" into an epoch timestamp.
// hourStart is the UTC start of the enclosing day/hour directory.
func parseChunkName(name string, hourStart time.Time) (int64, bool) {
	if !strings.HasSuffix(name, ".mp4") {
		return 0, false
	}
	stem := strings.TrimSuffix(name, ".mp4")

	if ts, err := strconv.ParseInt(stem, 10, 64); err == nil && ts > 0 {
		return ts, true
	}

	parts := strings.Split(stem, ".")
	if len(parts) != 2 {
		return 0, false
	}
	mm, err1 := strconv.Atoi(parts[0])
	ss, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || mm < 0 || mm > 59 || ss < 0 || ss > 59 {
		return 0, false
	}
	return hourStart.Unix() + int64(mm*60+ss), true
}

// scanRoot walks {root}/{YYYY-MM-DD}/{HH}/{camera}/ for every UTC hour in [from, to]
func scanRoot(root, camera string, from, to int64) ([]Entry, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, err
	}

	var entries []Entry
	cur := time.Unix(from, 0).UTC().Truncate(time.Hour)
	end := time.Unix(to, 0).UTC()
	for !cur.After(end) {
		dir := filepath.Join(root, cur.Format("2006-01-02"), cur.Format("15"), camera)
		files, err := os.ReadDir(dir)
		if err == nil {
			for _, f := range files {
				if f.IsDir() {
					continue
				}
				ts, ok := parseChunkName(f.Name(), cur)
				if !ok || ts < from || ts > to {
					continue
				}
				entries = append(entries, Entry{Timestamp: ts, Path: filepath.Join(dir, f.Name())})
			}
		}
		cur = cur.Add(time.Hour)
	}
	return entries, nil
}

// Scan indexes the chunks of camera for [after, before) across roots. The first
// root wins when two roots hold a chunk with the same timestamp. A non-empty
// reason is returned instead of an error when nothing usable was found.
func Scan(roots []string, camera string, after, before int64) (*Index, string) {
	idx := &Index{Camera: camera}
	from, to := after-scanSlack, before+scanSlack

	seen := make(map[int64]bool)
	var missing []string
	for _, root := range roots {
		if root == "" {
			continue
		}
		entries, err := scanRoot(root, camera, from, to)
		if err != nil {
			missing = append(missing, root)
			continue
		}
		idx.Roots = append(idx.Roots, root)
		for _, e := range entries {
			if seen[e.Timestamp] {
				continue
			}
			seen[e.Timestamp] = true
			idx.Entries = append(idx.Entries, e)
		}
	}

	if len(idx.Roots) == 0 {
		if len(missing) == 0 {
			return idx, "recordings path not configured"
		}
		return idx, fmt.Sprintf("recordings path not found: %s", strings.Join(missing, ", "))
	}
	if len(idx.Entries) == 0 {
		return idx, "no recordings found in scanned folders"
	}

	sort.Slice(idx.Entries, func(i, j int) bool {
		return idx.Entries[i].Timestamp < idx.Entries[j].Timestamp
	})
	idx.Cadence = InferCadence(idx.Entries)
	return idx, ""
}

// InferCadence returns the rounded median of consecutive deltas in (0, 60].
// Fewer than two usable deltas yields nil.
func InferCadence(entries []Entry) *int {
	var deltas []int64
	for i := 1; i < len(entries); i++ {
		d := entries[i].Timestamp - entries[i-1].Timestamp
		if d > 0 && d <= maxCadenceDelta {
			deltas = append(deltas, d)
		}
	}
	if len(deltas) < 2 {
		return nil
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i] < deltas[j] })

	mid := len(deltas) / 2
	median := float64(deltas[mid])
	if len(deltas)%2 == 0 {
		median = float64(deltas[mid-1]+deltas[mid]) / 2
	}
	cadence := int(math.RoundToEven(median))
	return &cadence
}

// ListCameras returns the camera directories present under the most recent day of root
func ListCameras(root string) ([]string, error) {
	days, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings root: %w", err)
	}

	var latest string
	for _, d := range days {
		if !d.IsDir() {
			continue
		}
		if _, err := time.Parse("2006-01-02", d.Name()); err != nil {
			continue
		}
		if d.Name() > latest {
			latest = d.Name()
		}
	}
	if latest == "" {
		return []string{}, nil
	}

	set := make(map[string]bool)
	hours, err := os.ReadDir(filepath.Join(root, latest))
	if err != nil {
		return nil, fmt.Errorf("failed to list day directory: %w", err)
	}
	for _, h := range hours {
		if !h.IsDir() {
			continue
		}
		cams, err := os.ReadDir(filepath.Join(root, latest, h.Name()))
		if err != nil {
			continue
		}
		for _, c := range cams {
			if c.IsDir() {
				set[c.Name()] = true
			}
		}
	}

	cameras := make([]string, 0, len(set))
	for name := range set {
		cameras = append(cameras, name)
	}
	sort.Strings(cameras)
	return cameras, nil
}
