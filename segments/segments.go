// Package segments turns detection events into padded, merged time segments
// and resolves requested date/time windows into epoch bounds.
package segments

import (
	"math"
	"sort"
	"strings"
)

// Event is one detection reported by the NVR
type Event struct {
	Label     string   `json:"label"`
	StartTime float64  `json:"start_time"`
	EndTime   *float64 `json:"end_time"`
	TopScore  *float64 `json:"top_score"`
	Score     *float64 `json:"score"`
}

// EffectiveScore returns top_score, falling back to score, then 0.
// A zero top_score falls through to score.
func (e Event) EffectiveScore() float64 {
	if e.TopScore != nil && *e.TopScore != 0 {
		return *e.TopScore
	}
	if e.Score != nil {
		return *e.Score
	}
	return 0
}

// Segment is a half-open interval [Start, End) in epoch seconds
type Segment struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Duration returns the segment length in seconds
func (s Segment) Duration() int64 {
	return s.End - s.Start
}

// DefaultInclude is the animal allow set used when no labels are given
var DefaultInclude = []string{
	"bird", "cat", "dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe",
	"deer", "raccoon", "squirrel", "rabbit", "fox", "coyote", "skunk", "opossum", "possum",
	"chipmunk", "groundhog", "bobcat", "mountain_lion", "cougar", "turkey",
}

// DefaultExclude is the deny set used when no labels are given
var DefaultExclude = []string{
	"person", "car", "truck", "bus", "motorcycle", "bicycle", "package", "train", "boat", "airplane",
}

// LabelFilter decides which event labels survive
type LabelFilter struct {
	Include map[string]bool // nil means every label is allowed
	Exclude map[string]bool
}

// NewLabelFilter builds a filter from label lists. A nil include list allows any label.
func NewLabelFilter(include, exclude []string) LabelFilter {
	f := LabelFilter{Exclude: toSet(exclude)}
	if include != nil {
		f.Include = toSet(include)
	}
	return f
}

// DefaultLabelFilter is the animal-only filter
func DefaultLabelFilter() LabelFilter {
	return NewLabelFilter(DefaultInclude, DefaultExclude)
}

// ParseLabelList splits a comma separated label list. Empty input yields nil.
func ParseLabelList(s string) []string {
	var labels []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			labels = append(labels, part)
		}
	}
	return labels
}

func toSet(labels []string) map[string]bool {
	set := make(map[string]bool, len(labels))
	for _, l := range labels {
		set[strings.ToLower(strings.TrimSpace(l))] = true
	}
	return set
}

// Allows reports whether a label passes the filter
func (f LabelFilter) Allows(label string) bool {
	label = strings.ToLower(strings.TrimSpace(label))
	if f.Exclude[label] {
		return false
	}
	return f.Include == nil || f.Include[label]
}

// BuildOptions controls padding and merging
type BuildOptions struct {
	PrePad   int64
	PostPad  int64
	MergeGap int64
	MinLen   int64
	MinScore float64
	Filter   LabelFilter
}

// DefaultBuildOptions mirrors the montage defaults
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		PrePad:   5,
		PostPad:  5,
		MergeGap: 15,
		MinLen:   2,
		Filter:   DefaultLabelFilter(),
	}
}

// Stats summarizes one build
type Stats struct {
	EventsTotal    int            `json:"events_total"`
	EventsMatched  int            `json:"events_matched"`
	RawSegments    int            `json:"raw_segments"`
	MergedSegments int            `json:"merged_segments"`
	LabelsSeen     map[string]int `json:"labels_seen"`
}

// FilterEvents keeps events whose label passes the filter and whose score meets minScore
func FilterEvents(events []Event, filter LabelFilter, minScore float64) []Event {
	var kept []Event
	for _, ev := range events {
		if !filter.Allows(ev.Label) {
			continue
		}
		if ev.EffectiveScore() < minScore {
			continue
		}
		kept = append(kept, ev)
	}
	return kept
}

// Pad converts events into raw segments clamped to [after, before)
func Pad(events []Event, after, before int64, opts BuildOptions) []Segment {
	var segs []Segment
	for _, ev := range events {
		end := ev.StartTime
		if ev.EndTime != nil {
			end = *ev.EndTime
		}
		s := int64(math.Floor(ev.StartTime)) - opts.PrePad
		e := int64(math.Ceil(end)) + opts.PostPad
		if s < after {
			s = after
		}
		if e > before {
			e = before
		}
		if e-s < opts.MinLen {
			continue
		}
		segs = append(segs, Segment{Start: s, End: e})
	}
	return segs
}

// Merge sorts segments and joins any whose start is within gap of the open segment's end.
// The input slice is not modified.
func Merge(segs []Segment, gap int64) []Segment {
	if len(segs) == 0 {
		return []Segment{}
	}
	sorted := make([]Segment, len(segs))
	copy(sorted, segs)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start == sorted[j].Start {
			return sorted[i].End < sorted[j].End
		}
		return sorted[i].Start < sorted[j].Start
	})

	merged := []Segment{sorted[0]}
	for _, seg := range sorted[1:] {
		open := &merged[len(merged)-1]
		if seg.Start <= open.End+gap {
			if seg.End > open.End {
				open.End = seg.End
			}
			continue
		}
		merged = append(merged, seg)
	}
	return merged
}

// Build runs filter, pad and merge over events for the window [after, before)
func Build(events []Event, after, before int64, opts BuildOptions) ([]Segment, Stats) {
	stats := Stats{EventsTotal: len(events), LabelsSeen: map[string]int{}}
	for _, ev := range events {
		stats.LabelsSeen[strings.ToLower(ev.Label)]++
	}

	matched := FilterEvents(events, opts.Filter, opts.MinScore)
	stats.EventsMatched = len(matched)

	raw := Pad(matched, after, before, opts)
	stats.RawSegments = len(raw)

	merged := Merge(raw, opts.MergeGap)
	stats.MergedSegments = len(merged)
	return merged, stats
}

// TotalDuration sums segment lengths in seconds
func TotalDuration(segs []Segment) int64 {
	var total int64
	for _, s := range segs {
		total += s.Duration()
	}
	return total
}

// Intersect clips segs to the union of windows. Both inputs must be sorted.
func Intersect(segs, windows []Segment) []Segment {
	var out []Segment
	for _, s := range segs {
		for _, w := range windows {
			start, end := s.Start, s.End
			if w.Start > start {
				start = w.Start
			}
			if w.End < end {
				end = w.End
			}
			if end > start {
				out = append(out, Segment{Start: start, End: end})
			}
		}
	}
	return out
}
