package runner

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"frigate-commander/database"
)

// Matcher classifies one output line. Match returns the captured groups when
// the line belongs to the matcher; Apply derives the new progress from them.
type Matcher struct {
	Name  string
	Match func(line string) ([]string, bool)
	Apply func(groups []string, current database.Progress, line string) database.Progress
}

func pattern(expr string) func(string) ([]string, bool) {
	re := regexp.MustCompile(expr)
	return func(line string) ([]string, bool) {
		m := re.FindStringSubmatch(line)
		return m, m != nil
	}
}

func keyword(pred func(lower string) bool) func(string) ([]string, bool) {
	return func(line string) ([]string, bool) {
		return nil, pred(strings.ToLower(line))
	}
}

// phaseAt sets a fixed phase and percent
func phaseAt(phase string, percent float64) func([]string, database.Progress, string) database.Progress {
	return func(_ []string, _ database.Progress, line string) database.Progress {
		return database.Progress{Phase: phase, Percent: percent, Message: line}
	}
}

// phaseKeep sets a phase and keeps the current percent
func phaseKeep(phase string) func([]string, database.Progress, string) database.Progress {
	return func(_ []string, cur database.Progress, line string) database.Progress {
		return database.Progress{Phase: phase, Percent: cur.Percent, Message: line}
	}
}

func orPhase(cur, fallback string) string {
	if cur == "" {
		return fallback
	}
	return cur
}

// DefaultMatchers is evaluated in order; the first match wins
var DefaultMatchers = []Matcher{
	{
		Name:  "percent",
		Match: pattern(`Progress:\s*([\d.]+)%`),
		Apply: func(g []string, cur database.Progress, line string) database.Progress {
			pct, err := strconv.ParseFloat(g[1], 64)
			if err != nil {
				pct = cur.Percent
			}
			return database.Progress{Phase: orPhase(cur.Phase, "render"), Percent: clampPercent(pct), Message: line}
		},
	},
	{
		Name:  "count",
		Match: pattern(`Progress:\s*(\d+)/(\d+)`),
		Apply: func(g []string, cur database.Progress, line string) database.Progress {
			done, _ := strconv.ParseFloat(g[1], 64)
			total, _ := strconv.ParseFloat(g[2], 64)
			pct := 0.0
			if total > 0 {
				pct = done / total * 100
			}
			return database.Progress{Phase: orPhase(cur.Phase, "process"), Percent: clampPercent(pct), Message: line}
		},
	},
	{
		Name:  "extract",
		Match: pattern(`Extracting first frame from (\d+) files`),
		Apply: phaseAt("extract", 0),
	},
	{
		Name:  "encode",
		Match: pattern(`Encoding (.+\.mp4)`),
		Apply: phaseKeep("encode"),
	},
	{
		Name: "segments",
		Match: keyword(func(l string) bool {
			return strings.Contains(l, "segment") && (strings.Contains(l, "found") || strings.Contains(l, "total"))
		}),
		Apply: phaseAt("segments", 0),
	},
	{
		Name:  "concat",
		Match: keyword(func(l string) bool { return strings.Contains(l, "concat") }),
		Apply: phaseAt("concat", 0),
	},
	{
		Name: "render",
		Match: keyword(func(l string) bool {
			return strings.Contains(l, "running:") || strings.Contains(l, "ffmpeg")
		}),
		Apply: phaseAt("render", 0),
	},
	{
		Name:  "done",
		Match: keyword(func(l string) bool { return strings.Contains(l, "done:") }),
		Apply: phaseAt("complete", 100),
	},
	{
		Name: "error",
		Match: keyword(func(l string) bool {
			return strings.Contains(l, "error") || strings.Contains(l, "failed")
		}),
		Apply: phaseKeep("error"),
	},
}

func clampPercent(p float64) float64 {
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return p
}

// ParseProgress applies matchers to line. Unmatched non-empty lines only
// replace the message; empty lines leave the progress untouched.
func ParseProgress(matchers []Matcher, line string, current database.Progress) database.Progress {
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	for _, m := range matchers {
		if groups, ok := m.Match(line); ok {
			return m.Apply(groups, current, line)
		}
	}
	return database.Progress{Phase: current.Phase, Percent: current.Percent, Message: line}
}

var wroteEntries = regexp.MustCompile(`Wrote \d+ entries to (.+)$`)

// OutputPath returns the file a line announces as the render result, if it exists on disk
func OutputPath(line string) string {
	line = strings.TrimSpace(line)
	var path string
	switch {
	case strings.HasPrefix(line, "DONE:"):
		path = strings.TrimSpace(strings.TrimPrefix(line, "DONE:"))
	case strings.HasPrefix(line, "Output:"):
		path = strings.TrimSpace(strings.TrimPrefix(line, "Output:"))
	default:
		if m := wroteEntries.FindStringSubmatch(line); m != nil {
			path = strings.TrimSpace(m[1])
		}
	}
	if path == "" {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// Tracker accumulates progress and the announced output over a run
type Tracker struct {
	Matchers []Matcher
	Progress database.Progress
	Output   string
}

// NewTracker starts from the given progress using DefaultMatchers
func NewTracker(start database.Progress) *Tracker {
	return &Tracker{Matchers: DefaultMatchers, Progress: start}
}

// Feed processes one line. changed reports any difference in the progress
// value; notify reports a change of phase or percent. The last output marker wins.
func (t *Tracker) Feed(line string) (changed, notify bool) {
	if out := OutputPath(line); out != "" {
		t.Output = out
	}
	next := ParseProgress(t.Matchers, line, t.Progress)
	changed = next != t.Progress
	notify = next.Phase != t.Progress.Phase || next.Percent != t.Progress.Percent
	t.Progress = next
	return changed, notify
}
