package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"frigate-commander/frigate"
	"frigate-commander/monitoring"
	"frigate-commander/recording"
	"frigate-commander/render"
	"frigate-commander/segments"
	"frigate-commander/sources"
)

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// recordingRoots prefers the job's paths over the configured ones
func (r *Run) recordingRoots(primary string, fallback []string) []string {
	roots := []string{firstNonEmpty(primary, r.Config.RecordingsPath)}
	if len(fallback) > 0 {
		return append(roots, fallback...)
	}
	return append(roots, r.Config.RecordingsPathFallback...)
}

func cadenceLabel(c *int) string {
	if c == nil {
		return "unknown"
	}
	return fmt.Sprintf("%ds", *c)
}

// segmentsDoc is the segments.json debug artifact
type segmentsDoc struct {
	Camera   string             `json:"camera"`
	BaseURL  string             `json:"base_url"`
	Timezone string             `json:"timezone"`
	Window   segments.Window    `json:"window"`
	Segments []segments.Segment `json:"segments"`
	Stats    segments.Stats     `json:"stats"`
}

// motionSegments pads motion-only review items of at least minMotion seconds
func motionSegments(items []frigate.ReviewItem, after, before int64, minMotion float64, opts segments.BuildOptions) []segments.Segment {
	var events []segments.Event
	for _, it := range items {
		if it.StartTime == nil || it.EventID != nil {
			continue
		}
		if it.EndTime != nil && *it.EndTime-*it.StartTime < minMotion {
			continue
		}
		if it.EndTime == nil && minMotion > 0 {
			continue
		}
		events = append(events, segments.Event{Label: "motion", StartTime: *it.StartTime, EndTime: it.EndTime})
	}
	return segments.Pad(events, after, before, opts)
}

func montagePipeline(ctx context.Context, run *Run) error {
	a := run.Args.(*MontageArgs)
	cfg := run.Config
	w := run.Window
	camera := run.Job.Camera
	baseURL := firstNonEmpty(a.BaseURL, cfg.FrigateBaseURL)

	run.Printf("Camera: %s", camera)
	run.Printf("Window: %s -> %s (%s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339), w.Tag)

	src := run.Source(baseURL)
	events, err := src.Events(ctx, camera, w.After, w.Before, a.Limit)
	if err != nil {
		return fmt.Errorf("failed to fetch events: %w", err)
	}

	include := segments.ParseLabelList(a.LabelsInclude)
	if include == nil {
		include = segments.DefaultInclude
	}
	exclude := segments.ParseLabelList(a.LabelsExclude)
	if exclude == nil {
		exclude = segments.DefaultExclude
	}
	opts := segments.BuildOptions{
		PrePad:   a.PrePad,
		PostPad:  a.PostPad,
		MergeGap: a.MergeGap,
		MinLen:   a.MinSegmentLen,
		MinScore: a.MinScore,
		Filter:   segments.NewLabelFilter(include, exclude),
	}
	segs, stats := segments.Build(frigate.ToSegmentEvents(events), w.After, w.Before, opts)

	if a.AllMotion {
		items, err := src.MotionReviews(ctx, camera, a.Limit)
		if err != nil {
			return fmt.Errorf("failed to fetch motion reviews: %w", err)
		}
		motion := motionSegments(items, w.After, w.Before, a.MinMotion, opts)
		run.Printf("Motion items added: %d", len(motion))
		segs = segments.Merge(append(segs, motion...), a.MergeGap)
		stats.MergedSegments = len(segs)
	}

	run.Printf("Segments found: %d (events=%d matched=%d)", len(segs), stats.EventsTotal, stats.EventsMatched)
	if len(segs) == 0 {
		return errors.New("no segments found in window")
	}

	manifest := sources.Resolve(camera, w, segs, sources.Options{
		Mode:      a.Source,
		StartSlop: a.StartSlop,
		EndSlop:   a.EndSlop,
		BaseURL:   baseURL,
		Roots:     run.recordingRoots(a.RecordingsPath, a.RecordingsPathFallback),
		Timezone:  cfg.Timezone,
	})
	if a.DumpArtifacts {
		doc := segmentsDoc{Camera: camera, BaseURL: baseURL, Timezone: cfg.Timezone, Window: w, Segments: segs, Stats: stats}
		if err := run.DumpJSON("segments.json", doc); err != nil {
			return err
		}
		if err := run.DumpJSON("manifest.json", manifest); err != nil {
			return err
		}
	}
	if len(manifest.Segments) == 0 {
		return fmt.Errorf("no segments could be resolved (%d skipped)", manifest.Stats.SegmentsSkipped)
	}
	run.Printf("Sources: disk=%d stream=%d skipped=%d cadence=%s",
		manifest.Stats.DiskSegments, manifest.Stats.StreamSegments, manifest.Stats.SegmentsSkipped, cadenceLabel(manifest.Stats.Cadence))

	if a.ProbeStream {
		if u := manifest.FirstStreamURL(); u != "" && !src.Probe(ctx, u) {
			return fmt.Errorf("stream fallback is not reachable: %s", u)
		}
	}

	inputs := manifest.Inputs()
	concatPath, err := render.WriteConcatFile(run.OutputDir, camera, inputs, run.Now())
	if err != nil {
		return err
	}

	copyMode := a.CopyMode && !a.Encode && a.Timelapse == 0
	encoder := firstNonEmpty(a.Encoder, cfg.DefaultEncoder)
	if !copyMode {
		encoder, _ = recording.ResolveEncoder(encoder, cfg.FFmpegPath)
	}
	out := filepath.Join(run.OutputDir, render.MontageName(camera, w.DayLabel(), w.Tag, a.Timelapse))

	run.Printf("Concat: %s entries=%d", concatPath, len(inputs))
	run.Printf("Output: %s", out)

	cmd, err := render.BuildConcatCommand(concatPath, render.ConcatOptions{
		FFmpegPath:     cfg.FFmpegPath,
		Output:         out,
		CopyMode:       copyMode,
		CopyAudio:      a.CopyAudio,
		Timelapse:      a.Timelapse,
		TimelapseAudio: a.TimelapseAudio,
		FPS:            a.FPS,
		Encode:         render.MontageParams(encoder, a.FPS),
		Progress:       a.Progress,
		InputSeconds:   float64(manifest.Duration()),
		InputFiles:     len(inputs),
	})
	if err != nil {
		return err
	}
	if err := run.Exec(ctx, cmd); err != nil {
		return err
	}
	run.Printf("DONE: %s", out)
	return nil
}

// timelapseInputs lists the files or stream chunks a timelapse reads
func timelapseInputs(run *Run, a *TimelapseArgs, baseURL string, windows []segments.Segment) ([]recording.Entry, string, error) {
	w := run.Window
	if a.Source == sources.ModeStream {
		chunk := int64(a.StreamChunkSeconds)
		if a.SampleInterval > 0 {
			chunk = int64(a.SampleInterval)
		}
		entries := sources.StreamChunks(baseURL, run.Job.Camera, w.After, w.Before, chunk, windows)
		if len(entries) == 0 {
			return nil, "", errors.New("no stream chunks generated")
		}
		run.Printf("Stream source: %d chunks (%ds each)", len(entries), chunk)
		return entries, fmt.Sprintf("%ds", chunk), nil
	}

	idx, reason := recording.Scan(run.recordingRoots(a.RecordingsPath, a.RecordingsPathFallback), run.Job.Camera, w.After, w.Before)
	if idx.Len() == 0 {
		return nil, "", errors.New(firstNonEmpty(reason, "no recordings found"))
	}
	var entries []recording.Entry
	for _, e := range idx.Entries {
		if e.Timestamp >= w.After && e.Timestamp < w.Before {
			entries = append(entries, e)
		}
	}
	if len(entries) == 0 {
		return nil, "", errors.New("no recordings within requested window")
	}

	if len(windows) > 0 {
		before := len(entries)
		entries = sources.FilterWindows(entries, windows)
		if len(entries) == 0 {
			return nil, "", fmt.Errorf("no recordings within %s windows", a.Mode())
		}
		run.Printf("Sun filter (%s): %d/%d files in %d windows", a.Mode(), len(entries), before, len(windows))
	}

	if a.SampleInterval > 0 {
		total := len(entries)
		entries = render.SampleByInterval(entries, w.After, a.SampleInterval)
		run.Printf("Segment sampling: %d/%d files (1 per %vs)", len(entries), total, a.SampleInterval)
	}
	if len(entries) == 0 {
		return nil, "", errors.New("no files after sampling filter")
	}
	return entries, cadenceLabel(idx.Cadence), nil
}

func timelapsePipeline(ctx context.Context, run *Run) error {
	a := run.Args.(*TimelapseArgs)
	cfg := run.Config
	w := run.Window
	camera := run.Job.Camera
	baseURL := firstNonEmpty(a.BaseURL, cfg.FrigateBaseURL)
	useStream := a.Source == sources.ModeStream

	var windows []segments.Segment
	if !w.StartDay.Equal(w.EndDay) && (a.DawnToDusk || a.DuskToDawn) {
		windows = segments.SunWindows(w.StartDay, w.EndDay, a.Mode(), cfg.Location(), a.DawnOffset, a.DuskOffset)
	}

	entries, cadence, err := timelapseInputs(run, a, baseURL, windows)
	if err != nil {
		return err
	}
	inputs := make([]string, len(entries))
	for i, e := range entries {
		inputs[i] = e.Path
	}

	encoder, _ := recording.ResolveEncoder(firstNonEmpty(a.Encoder, cfg.DefaultEncoder), cfg.FFmpegPath)
	params := render.TimelapseParams(encoder)
	if a.Preset != "" {
		params.Preset = a.Preset
	}
	if a.CQ != nil {
		params.CQ = a.CQ
	}
	if a.CRF != nil {
		params.CRF = a.CRF
	}
	params.CUDA = a.CUDA

	out := filepath.Join(run.OutputDir, render.TimelapseName(camera, w.DayLabel(), w.Tag, a.Timelapse, a.FrameSample, a.SampleInterval))
	sourceLabel := "disk"
	if useStream {
		sourceLabel = "stream"
	}
	run.Printf("Camera:  %s", camera)
	run.Printf("Source:  %s", sourceLabel)
	run.Printf("Window:  %s -> %s (%s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339), w.Tag)
	run.Printf("Files:   %d cadence=%s", len(inputs), cadence)
	run.Printf("Output:  %s", out)
	run.Printf("Codec:   %s fps=%d", params.Describe(), a.FPS)
	if a.Scale != "" {
		run.Printf("Scale:   %s", a.Scale)
	}
	estimate := render.EstimateOutputSeconds(float64(w.Seconds()), len(inputs), a.Timelapse, a.FrameSample, a.SampleInterval, a.FPS)
	run.Printf("Estimate: %s", render.FormatDuration(estimate))

	if a.SampleInterval > 0 || useStream {
		return twoPassTimelapse(ctx, run, a, inputs, params, out, useStream)
	}

	concatPath, err := render.WriteConcatFile(run.OutputDir, camera, inputs, run.Now())
	if err != nil {
		return err
	}
	cmd, err := render.BuildConcatCommand(concatPath, render.ConcatOptions{
		FFmpegPath:     cfg.FFmpegPath,
		Output:         out,
		Timelapse:      a.Timelapse,
		TimelapseAudio: a.Audio,
		FrameSample:    a.FrameSample,
		FPS:            a.FPS,
		Scale:          a.Scale,
		Encode:         params,
		Progress:       true,
		InputSeconds:   float64(w.Seconds()),
		InputFiles:     len(inputs),
	})
	if err != nil {
		return err
	}
	run.Printf("Concat:  %s", concatPath)
	if err := run.Exec(ctx, cmd); err != nil {
		return err
	}
	run.Printf("DONE: %s", out)
	return nil
}

// twoPassTimelapse extracts one still per input, then encodes the image sequence
func twoPassTimelapse(ctx context.Context, run *Run, a *TimelapseArgs, inputs []string, params render.EncodeParams, out string, useStream bool) error {
	cfg := run.Config
	frameDir, err := os.MkdirTemp("", "timelapse_frames_")
	if err != nil {
		return fmt.Errorf("failed to create frame directory: %v", err)
	}
	defer os.RemoveAll(frameDir)

	cacheDir := ""
	if a.FrameCache && !useStream {
		cacheDir = cfg.FrameCacheDir
	}
	workers := a.Workers
	if workers <= 0 {
		workers = monitoring.FrameWorkers()
	}
	extractor := &render.FrameExtractor{
		FFmpegPath: cfg.FFmpegPath,
		CacheDir:   cacheDir,
		Workers:    workers,
		Output:     run,
	}
	frames, err := extractor.Extract(ctx, inputs, frameDir)
	if err != nil {
		return err
	}
	if frames == 0 {
		return errors.New("No frames extracted")
	}
	run.Printf("Extracted %d frames", frames)

	cmd, err := render.BuildImageSequenceCommand(frameDir, render.ImageSequenceOptions{
		FFmpegPath: cfg.FFmpegPath,
		Output:     out,
		FPS:        a.FPS,
		Scale:      a.Scale,
		Encode:     params,
		Progress:   true,
		Frames:     frames,
	})
	if err != nil {
		return err
	}
	run.Printf("Encoding %s...", out)
	if err := run.Exec(ctx, cmd); err != nil {
		return err
	}
	run.Printf("DONE: %s", out)
	return nil
}

func motionPlaylistPipeline(ctx context.Context, run *Run) error {
	a := run.Args.(*MotionPlaylistArgs)
	cfg := run.Config
	camera := run.Job.Camera
	baseURL := firstNonEmpty(a.BaseURL, cfg.FrigateBaseURL)

	run.Printf("Camera: %s", camera)
	items, err := run.Source(baseURL).MotionReviews(ctx, camera, a.Limit)
	if err != nil {
		return fmt.Errorf("failed to fetch motion reviews: %w", err)
	}

	motion := make([]render.MotionItem, 0, len(items))
	for _, it := range items {
		if it.StartTime == nil {
			continue
		}
		mi := render.MotionItem{Start: *it.StartTime, End: it.EndTime}
		if it.EventID != nil {
			mi.EventID = *it.EventID
		}
		motion = append(motion, mi)
	}
	entries := render.MotionEntries(motion, a.Start, a.End, a.DefaultDuration)
	if len(entries) == 0 {
		return errors.New("No motion-only review items matched.")
	}

	out := filepath.Join(run.OutputDir, fmt.Sprintf("%s-motion-%s.m3u", camera, run.Job.ID))
	if err := render.WriteM3U(out, camera, baseURL, entries, cfg.Location().TZ); err != nil {
		return err
	}
	run.Printf("Wrote %d entries to %s", len(entries), out)
	return nil
}
