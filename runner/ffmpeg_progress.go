package runner

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"frigate-commander/render"
)

var keyValueLine = regexp.MustCompile(`^([a-z0-9_]+)=(.*)$`)

// FFmpegProgress folds ffmpeg's `-progress` key=value blocks into readable
// "Progress: 45.0% time=00:01:23 speed=12.3x" lines, at most one per interval.
// The final block (progress=end) is always reported.
type FFmpegProgress struct {
	expected float64
	interval time.Duration
	now      func() time.Time

	outTime  float64
	haveTime bool
	speed    string
	lastEmit time.Time
}

// NewFFmpegProgress tracks progress towards expected seconds of output
func NewFFmpegProgress(expected float64, interval time.Duration) *FFmpegProgress {
	p := &FFmpegProgress{expected: expected, interval: interval, now: time.Now}
	p.lastEmit = p.now()
	return p
}

// Feed consumes one output line. ok is false when the line is not part of the
// key=value progress stream; out is non-empty when a summary line is due.
func (p *FFmpegProgress) Feed(line string) (out string, ok bool) {
	m := keyValueLine.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return "", false
	}
	key, val := m[1], strings.TrimSpace(m[2])

	switch key {
	case "out_time_us", "out_time_ms":
		// ffmpeg reports microseconds under both keys
		if v, err := strconv.ParseInt(val, 10, 64); err == nil && v >= 0 {
			p.outTime = float64(v) / 1e6
			p.haveTime = true
		}
	case "speed":
		p.speed = val
	case "progress":
		now := p.now()
		end := val == "end"
		if end || (p.haveTime && now.Sub(p.lastEmit) >= p.interval) {
			p.lastEmit = now
			return p.summary(end), true
		}
	}
	return "", true
}

func (p *FFmpegProgress) summary(end bool) string {
	pct := "  n/a"
	if p.expected > 0 {
		v := 100 * p.outTime / p.expected
		if end {
			v = 100
		}
		if v > 100 {
			v = 100
		}
		if v < 0 {
			v = 0
		}
		pct = fmt.Sprintf("%5.1f%%", v)
	}
	speed := p.speed
	if speed == "" || speed == "N/A" {
		speed = "?"
	}
	return fmt.Sprintf("Progress: %s time=%s speed=%s", pct, render.FormatDuration(p.outTime), speed)
}
