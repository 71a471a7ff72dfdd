package render

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"frigate-commander/recording"
)

// FramePattern is the ffmpeg image2 pattern of extracted stills
const FramePattern = "frame_%08d.webp"

const (
	maxFrameWorkers   = 16
	frameReportEvery  = 500
	extractedNameTmpl = "%08d.webp"
)

var recordingPathRe = regexp.MustCompile(`/(\d{4}-\d{2}-\d{2})/(\d{2})/([^/]+)/(\d{2})\.(\d{2})\.mp4$`)

// FrameCachePath maps a recording path to {cache}/{camera}/{date}/{HH}-{MM}-{SS}.webp.
// Paths outside the recording layout fall back to an md5 keyed name under _other.
func FrameCachePath(cacheDir, recordingPath string) string {
	if m := recordingPathRe.FindStringSubmatch(filepath.ToSlash(recordingPath)); m != nil {
		date, hour, camera, minute, second := m[1], m[2], m[3], m[4], m[5]
		return filepath.Join(cacheDir, camera, date, fmt.Sprintf("%s-%s-%s.webp", hour, minute, second))
	}
	sum := md5.Sum([]byte(recordingPath))
	return filepath.Join(cacheDir, "_other", hex.EncodeToString(sum[:])+".webp")
}

// SampleByInterval keeps the first entry of each interval bucket aligned on after.
// Larger intervals select a subset of the buckets of smaller ones.
func SampleByInterval(entries []recording.Entry, after int64, interval float64) []recording.Entry {
	if interval <= 0 {
		return entries
	}
	buckets := make(map[int64]recording.Entry)
	var keys []int64
	for _, e := range entries {
		b := int64(math.Floor(float64(e.Timestamp-after) / interval))
		if _, ok := buckets[b]; ok {
			continue
		}
		buckets[b] = e
		keys = append(keys, b)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	sampled := make([]recording.Entry, len(keys))
	for i, k := range keys {
		sampled[i] = buckets[k]
	}
	return sampled
}

// DefaultFrameWorkers is min(16, 2 x CPUs)
func DefaultFrameWorkers() int {
	n := runtime.NumCPU() * 2
	if n > maxFrameWorkers {
		n = maxFrameWorkers
	}
	return n
}

// FrameExtractor pulls the first frame of every input into a numbered image sequence
type FrameExtractor struct {
	FFmpegPath string
	CacheDir   string // empty disables the frame cache
	Workers    int
	Output     io.Writer
}

// Extract writes frame_%08d.webp files into outDir, in input order, skipping
// inputs that failed. It returns the number of frames written.
func (fe *FrameExtractor) Extract(ctx context.Context, inputs []string, outDir string) (int, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create frame directory: %v", err)
	}
	if fe.CacheDir != "" {
		if err := os.MkdirAll(fe.CacheDir, 0755); err != nil {
			return 0, fmt.Errorf("failed to create frame cache: %v", err)
		}
	}
	ffmpeg := fe.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	workers := fe.Workers
	if workers <= 0 {
		workers = DefaultFrameWorkers()
	}
	out := fe.Output
	if out == nil {
		out = io.Discard
	}

	total := len(inputs)
	cacheNote := ""
	if fe.CacheDir != "" {
		cacheNote = ", cache=" + fe.CacheDir
	}
	fmt.Fprintf(out, "Extracting first frame from %d files (workers=%d%s)...\n", total, workers, cacheNote)

	var (
		mu        sync.Mutex
		done      int
		cached    int
		succeeded []int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for idx, input := range inputs {
		idx, input := idx, input
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			hit, ok := fe.extractOne(gctx, ffmpeg, input, filepath.Join(outDir, fmt.Sprintf(extractedNameTmpl, idx)))

			mu.Lock()
			defer mu.Unlock()
			done++
			if ok {
				succeeded = append(succeeded, idx)
				if hit {
					cached++
				}
			}
			if done%frameReportEvery == 0 || done == total {
				fmt.Fprintf(out, "  Progress: %d/%d (success=%d, cached=%d)\n", done, total, len(succeeded), cached)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return len(succeeded), err
	}

	sort.Ints(succeeded)
	fmt.Fprintf(out, "  Renumbering %d frames to sequential...\n", len(succeeded))
	for newIdx, oldIdx := range succeeded {
		oldPath := filepath.Join(outDir, fmt.Sprintf(extractedNameTmpl, oldIdx))
		newPath := filepath.Join(outDir, fmt.Sprintf(FramePattern, newIdx))
		if err := os.Rename(oldPath, newPath); err != nil {
			return newIdx, fmt.Errorf("failed to renumber frame: %v", err)
		}
	}
	if cached > 0 {
		fmt.Fprintf(out, "  Cache hits: %d/%d frames reused\n", cached, len(succeeded))
	}
	return len(succeeded), nil
}

// extractOne returns (cacheHit, ok)
func (fe *FrameExtractor) extractOne(ctx context.Context, ffmpeg, input, outPath string) (bool, bool) {
	var cachePath string
	if fe.CacheDir != "" {
		cachePath = FrameCachePath(fe.CacheDir, input)
		if err := copyFile(cachePath, outPath); err == nil {
			return true, true
		}
	}

	cmd := exec.CommandContext(ctx, ffmpeg,
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", input, "-frames:v", "1", "-quality", "85", outPath)
	if err := cmd.Run(); err != nil {
		return false, false
	}
	if _, err := os.Stat(outPath); err != nil {
		return false, false
	}

	if cachePath != "" {
		// cache write failures are not fatal
		if err := os.MkdirAll(filepath.Dir(cachePath), 0755); err == nil {
			_ = copyFile(outPath, cachePath)
		}
	}
	return false, true
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
