// Package sources maps merged segments onto recording chunks on disk, falling
// back to the NVR's VOD playlists when the disk cannot be trusted to cover them.
package sources

import (
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	"frigate-commander/recording"
	"frigate-commander/segments"
)

// Source modes
const (
	ModeDisk     = "disk"      // disk first, stream fallback per segment
	ModeDiskOnly = "disk_only" // disk only, unresolved segments are skipped
	ModeStream   = "stream"    // stream for every segment
)

// Source types
const (
	TypeDisk   = "disk"
	TypeStream = "stream"
)

// DefaultStartSlop and DefaultEndSlop are cadence multipliers for edge tolerance
const (
	DefaultStartSlop = 2.0
	DefaultEndSlop   = 4.0
)

// Source is where one segment's media comes from
type Source struct {
	Type    string   `json:"type"`
	Files   []string `json:"files,omitempty"`
	Cadence *int     `json:"cadence,omitempty"`
	URL     string   `json:"url,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

// SourceEntry is a segment annotated with its source
type SourceEntry struct {
	Start  int64  `json:"start"`
	End    int64  `json:"end"`
	Source Source `json:"source"`
}

// SkippedSegment records why a segment was left out in disk_only mode
type SkippedSegment struct {
	Start  int64  `json:"start"`
	End    int64  `json:"end"`
	Reason string `json:"reason"`
}

// Stats summarizes a resolution run
type Stats struct {
	SegmentsTotal   int  `json:"segments_total"`
	SegmentsSkipped int  `json:"segments_skipped"`
	DiskSegments    int  `json:"disk_segments"`
	StreamSegments  int  `json:"stream_segments"`
	DiskIndexFiles  int  `json:"disk_index_files"`
	Cadence         *int `json:"cadence"`
}

// Manifest is the resolved media for one render run. Treat it as read-only once built.
type Manifest struct {
	Camera     string           `json:"camera"`
	BaseURL    string           `json:"base_url"`
	Timezone   string           `json:"timezone"`
	Window     segments.Window  `json:"window"`
	Mode       string           `json:"mode"`
	DiskReason string           `json:"disk_reason,omitempty"`
	Segments   []SourceEntry    `json:"segments"`
	Skipped    []SkippedSegment `json:"skipped,omitempty"`
	Stats      Stats            `json:"stats"`
}

// Options controls resolution
type Options struct {
	Mode      string
	StartSlop float64
	EndSlop   float64
	BaseURL   string
	Roots     []string
	Timezone  string
}

// StreamURL builds the VOD playlist URL for [start, end)
func StreamURL(baseURL, camera string, start, end int64) string {
	return fmt.Sprintf("%s/vod/%s/start/%d/end/%d/master.m3u8", strings.TrimRight(baseURL, "/"), camera, start, end)
}

// FindFiles picks the chunks that likely cover [seg.Start, seg.End). A nil
// result comes with a reason explaining why the disk cannot be trusted.
func FindFiles(entries []recording.Entry, cadence *int, seg segments.Segment, startSlop, endSlop float64) ([]recording.Entry, string) {
	if len(entries) == 0 {
		return nil, "empty index"
	}

	// last entry with ts <= seg.Start
	pos := sort.Search(len(entries), func(i int) bool {
		return entries[i].Timestamp > seg.Start
	}) - 1
	if pos < 0 {
		return nil, "no chunk starts before segment start"
	}

	var selected []recording.Entry
	for i := pos; i < len(entries) && entries[i].Timestamp < seg.End; i++ {
		selected = append(selected, entries[i])
	}
	if len(selected) == 0 {
		selected = []recording.Entry{entries[pos]}
	}

	first := selected[0].Timestamp
	last := selected[len(selected)-1].Timestamp
	if cadence != nil {
		startTol := int64(math.RoundToEven(startSlop * float64(*cadence)))
		endTol := int64(math.RoundToEven(endSlop * float64(*cadence)))
		if seg.Start > first+startTol {
			return nil, fmt.Sprintf("gap before start (seg_start %d >> %d, cadence~%ds)", seg.Start, first, *cadence)
		}
		if seg.End > last+endTol {
			return nil, fmt.Sprintf("end beyond chunks (seg_end %d >> %d, cadence~%ds)", seg.End, last, *cadence)
		}
	}
	return selected, ""
}

// Resolve builds the manifest for camera over the given segments. The disk is
// scanned once; if it yields nothing the whole run falls back to streaming,
// except in disk_only mode where every segment is skipped.
func Resolve(camera string, window segments.Window, segs []segments.Segment, opts Options) *Manifest {
	if opts.Mode == "" {
		opts.Mode = ModeDisk
	}
	if opts.StartSlop <= 0 {
		opts.StartSlop = DefaultStartSlop
	}
	if opts.EndSlop <= 0 {
		opts.EndSlop = DefaultEndSlop
	}

	m := &Manifest{
		Camera:   camera,
		BaseURL:  opts.BaseURL,
		Timezone: opts.Timezone,
		Window:   window,
		Mode:     opts.Mode,
		Segments: []SourceEntry{},
	}
	m.Stats.SegmentsTotal = len(segs)

	var idx *recording.Index
	useDisk := opts.Mode != ModeStream
	if useDisk {
		var reason string
		idx, reason = recording.Scan(opts.Roots, camera, window.After, window.Before)
		m.Stats.DiskIndexFiles = idx.Len()
		m.Stats.Cadence = idx.Cadence
		if reason != "" {
			m.DiskReason = reason
			if opts.Mode == ModeDisk {
				log.Printf("[SourceResolver] %s: %s, streaming every segment", camera, reason)
				useDisk = false
			}
		}
	}

	for _, seg := range segs {
		entry := SourceEntry{Start: seg.Start, End: seg.End}

		if !useDisk {
			reason := "source=stream"
			if m.DiskReason != "" {
				reason = m.DiskReason
			}
			entry.Source = Source{Type: TypeStream, URL: StreamURL(opts.BaseURL, camera, seg.Start, seg.End), Reason: reason}
			m.Stats.StreamSegments++
			m.Segments = append(m.Segments, entry)
			continue
		}

		chosen, reason := FindFiles(idx.Entries, idx.Cadence, seg, opts.StartSlop, opts.EndSlop)
		if chosen == nil && m.DiskReason != "" {
			reason = m.DiskReason
		}
		if chosen != nil {
			files := make([]string, len(chosen))
			for i, c := range chosen {
				files[i] = c.Path
			}
			entry.Source = Source{Type: TypeDisk, Files: files, Cadence: idx.Cadence}
			m.Stats.DiskSegments++
			m.Segments = append(m.Segments, entry)
			continue
		}

		if opts.Mode == ModeDiskOnly {
			m.Skipped = append(m.Skipped, SkippedSegment{Start: seg.Start, End: seg.End, Reason: reason})
			m.Stats.SegmentsSkipped++
			continue
		}

		entry.Source = Source{Type: TypeStream, URL: StreamURL(opts.BaseURL, camera, seg.Start, seg.End), Reason: reason}
		m.Stats.StreamSegments++
		m.Segments = append(m.Segments, entry)
	}

	return m
}

// FirstStreamURL returns the first stream source, used for reachability probes
func (m *Manifest) FirstStreamURL() string {
	for _, e := range m.Segments {
		if e.Source.Type == TypeStream {
			return e.Source.URL
		}
	}
	return ""
}

// Inputs flattens the manifest into concat inputs, dropping consecutive repeats.
// Neighbouring segments often select the same chunk.
func (m *Manifest) Inputs() []string {
	var inputs []string
	for _, e := range m.Segments {
		var items []string
		if e.Source.Type == TypeDisk {
			items = e.Source.Files
		} else {
			items = []string{e.Source.URL}
		}
		for _, item := range items {
			if len(inputs) > 0 && inputs[len(inputs)-1] == item {
				continue
			}
			inputs = append(inputs, item)
		}
	}
	return inputs
}

// Duration sums the resolved segment lengths
func (m *Manifest) Duration() int64 {
	var total int64
	for _, e := range m.Segments {
		total += e.End - e.Start
	}
	return total
}
