package jobs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"frigate-commander/database"
	"frigate-commander/render"
	"frigate-commander/segments"
	"frigate-commander/sources"
)

// ValidationError reports job input that was rejected before anything ran
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Args is the typed argument set of one job kind
type Args interface {
	Kind() database.JobKind
	Validate(tz *time.Location) error
}

// windowed is implemented by kinds that render a date/time window
type windowed interface {
	Spec() segments.WindowSpec
}

// MontageArgs drive the animal montage pipeline
type MontageArgs struct {
	BaseURL string `json:"base_url,omitempty"`
	segments.WindowSpec

	PrePad        int64   `json:"pre_pad"`
	PostPad       int64   `json:"post_pad"`
	MergeGap      int64   `json:"merge_gap"`
	MinSegmentLen int64   `json:"min_segment_len"`
	MinScore      float64 `json:"min_score"`
	LabelsInclude string  `json:"labels_include,omitempty"`
	LabelsExclude string  `json:"labels_exclude,omitempty"`
	AllMotion     bool    `json:"all_motion,omitempty"`
	MinMotion     float64 `json:"min_motion,omitempty"`

	RecordingsPath         string   `json:"recordings_path,omitempty"`
	RecordingsPathFallback []string `json:"recordings_path_fallback,omitempty"`
	Source                 string   `json:"source"`
	StartSlop              float64  `json:"start_slop"`
	EndSlop                float64  `json:"end_slop"`
	ProbeStream            bool     `json:"probe_stream,omitempty"`

	Encoder        string  `json:"encoder,omitempty"`
	Timelapse      float64 `json:"timelapse,omitempty"`
	TimelapseAudio bool    `json:"timelapse_audio,omitempty"`
	CopyMode       bool    `json:"copy_mode"`
	CopyAudio      bool    `json:"copy_audio"`
	Encode         bool    `json:"encode,omitempty"`
	FPS            int     `json:"fps"`
	Progress       bool    `json:"progress"`
	DumpArtifacts  bool    `json:"dump_artifacts,omitempty"`
	Limit          int     `json:"limit"`
}

// DefaultMontageArgs returns the values used for omitted fields
func DefaultMontageArgs() *MontageArgs {
	return &MontageArgs{
		PrePad:        5,
		PostPad:       5,
		MergeGap:      15,
		MinSegmentLen: 2,
		Source:        sources.ModeDisk,
		StartSlop:     sources.DefaultStartSlop,
		EndSlop:       sources.DefaultEndSlop,
		CopyMode:      true,
		CopyAudio:     true,
		FPS:           30,
		Progress:      true,
		Limit:         5000,
	}
}

func (a *MontageArgs) Kind() database.JobKind { return database.KindMontage }

func (a *MontageArgs) Spec() segments.WindowSpec { return a.WindowSpec }

// Validate checks field ranges and combinations
func (a *MontageArgs) Validate(tz *time.Location) error {
	if err := a.WindowSpec.Validate(tz); err != nil {
		return &ValidationError{Msg: err.Error()}
	}
	switch {
	case a.PrePad < 0 || a.PostPad < 0:
		return invalid("pre_pad and post_pad must be >= 0")
	case a.MergeGap < 0:
		return invalid("merge_gap must be >= 0")
	case a.MinSegmentLen < 0:
		return invalid("min_segment_len must be >= 0")
	case a.MinMotion < 0:
		return invalid("min_motion must be >= 0")
	case a.Timelapse < 0:
		return invalid("timelapse must be > 0")
	case a.FPS <= 0:
		return invalid("fps must be > 0")
	case a.StartSlop <= 0 || a.EndSlop <= 0:
		return invalid("start_slop and end_slop must be > 0")
	case a.Limit <= 0:
		return invalid("limit must be > 0")
	}
	if err := validSource(a.Source, sources.ModeDisk, sources.ModeDiskOnly, sources.ModeStream); err != nil {
		return err
	}
	return validEncoder(a.Encoder)
}

// TimelapseArgs drive the timelapse pipeline
type TimelapseArgs struct {
	BaseURL                string   `json:"base_url,omitempty"`
	RecordingsPath         string   `json:"recordings_path,omitempty"`
	RecordingsPathFallback []string `json:"recordings_path_fallback,omitempty"`
	Source                 string   `json:"source"`
	segments.WindowSpec

	Timelapse      float64 `json:"timelapse"`
	FrameSample    float64 `json:"frame_sample,omitempty"`
	SampleInterval float64 `json:"sample_interval,omitempty"`
	FPS            int     `json:"fps"`

	Encoder string `json:"encoder,omitempty"`
	Preset  string `json:"preset,omitempty"`
	CQ      *int   `json:"cq,omitempty"`
	CRF     *int   `json:"crf,omitempty"`
	Scale   string `json:"scale,omitempty"`
	CUDA    bool   `json:"cuda,omitempty"`
	Audio   bool   `json:"audio,omitempty"`

	StreamChunkSeconds int  `json:"stream_chunk_seconds"`
	FrameCache         bool `json:"frame_cache"`
	Workers            int  `json:"workers,omitempty"`
}

// DefaultTimelapseArgs returns the values used for omitted fields
func DefaultTimelapseArgs() *TimelapseArgs {
	return &TimelapseArgs{
		Source:             sources.ModeDisk,
		Timelapse:          50,
		FPS:                20,
		StreamChunkSeconds: 60,
		FrameCache:         true,
	}
}

func (a *TimelapseArgs) Kind() database.JobKind { return database.KindTimelapse }

func (a *TimelapseArgs) Spec() segments.WindowSpec { return a.WindowSpec }

// Validate checks field ranges and combinations
func (a *TimelapseArgs) Validate(tz *time.Location) error {
	if err := a.WindowSpec.Validate(tz); err != nil {
		return &ValidationError{Msg: err.Error()}
	}
	switch {
	case a.FrameSample > 0 && a.SampleInterval > 0:
		return invalid("frame_sample and sample_interval are mutually exclusive")
	case a.Timelapse <= 0:
		return invalid("timelapse must be > 0")
	case a.FrameSample < 0 || a.SampleInterval < 0:
		return invalid("frame_sample and sample_interval must be > 0")
	case a.FPS <= 0:
		return invalid("fps must be > 0")
	case a.StreamChunkSeconds <= 0:
		return invalid("stream_chunk_seconds must be > 0")
	case a.Workers < 0:
		return invalid("workers must be >= 0")
	case a.CQ != nil && *a.CQ < 0, a.CRF != nil && *a.CRF < 0:
		return invalid("cq and crf must be >= 0")
	}
	if err := validSource(a.Source, sources.ModeDisk, sources.ModeStream); err != nil {
		return err
	}
	return validEncoder(a.Encoder)
}

// MotionPlaylistArgs drive the motion review playlist
type MotionPlaylistArgs struct {
	BaseURL         string   `json:"base_url,omitempty"`
	Limit           int      `json:"limit"`
	Start           *float64 `json:"start,omitempty"`
	End             *float64 `json:"end,omitempty"`
	DefaultDuration int      `json:"default_duration"`
}

// DefaultMotionPlaylistArgs returns the values used for omitted fields
func DefaultMotionPlaylistArgs() *MotionPlaylistArgs {
	return &MotionPlaylistArgs{Limit: 500, DefaultDuration: 30}
}

func (a *MotionPlaylistArgs) Kind() database.JobKind { return database.KindMotionPlaylist }

// Validate checks field ranges
func (a *MotionPlaylistArgs) Validate(_ *time.Location) error {
	switch {
	case a.Limit <= 0:
		return invalid("limit must be > 0")
	case a.DefaultDuration <= 0:
		return invalid("default_duration must be > 0")
	case a.Start != nil && a.End != nil && *a.End <= *a.Start:
		return invalid("end must be after start")
	}
	return nil
}

func validSource(source string, allowed ...string) error {
	for _, s := range allowed {
		if source == s {
			return nil
		}
	}
	return invalid("unknown source: %s", source)
}

// validEncoder accepts an empty name, which defers to the configured default
func validEncoder(name string) error {
	if name != "" && !render.ValidEncoder(name) {
		return invalid("unsupported encoder: %s", name)
	}
	return nil
}

// ParseArgs decodes raw arguments for kind over its defaults and validates them
func ParseArgs(kind database.JobKind, raw json.RawMessage, tz *time.Location) (Args, error) {
	var args Args
	switch kind {
	case database.KindMontage:
		args = DefaultMontageArgs()
	case database.KindTimelapse:
		args = DefaultTimelapseArgs()
	case database.KindMotionPlaylist:
		args = DefaultMotionPlaylistArgs()
	default:
		return nil, invalid("unknown job type: %s", kind)
	}

	if len(bytes.TrimSpace(raw)) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		if err := json.Unmarshal(raw, args); err != nil {
			return nil, invalid("invalid arguments: %v", err)
		}
	}
	if err := args.Validate(tz); err != nil {
		return nil, err
	}
	return args, nil
}

// resolveWindow returns the window of windowed kinds, anchored at now
func resolveWindow(args Args, loc segments.Location, now time.Time) (segments.Window, bool, error) {
	w, ok := args.(windowed)
	if !ok {
		return segments.Window{}, false, nil
	}
	window, err := segments.ResolveWindow(w.Spec(), loc, now)
	if err != nil {
		return segments.Window{}, true, &ValidationError{Msg: err.Error()}
	}
	return window, true, nil
}
