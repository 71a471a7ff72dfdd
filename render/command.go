// Package render turns a resolved manifest into ffmpeg invocations: concat
// lists, encoder parameter sets, timelapse filters and image sequence encodes.
package render

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const protocolWhitelist = "file,http,https,tcp,tls,crypto"

// Command is a fully built external invocation
type Command struct {
	Path            string
	Args            []string
	ConcatFile      string
	Output          string
	ExpectedSeconds float64
}

// String renders the command line for the job log
func (c *Command) String() string {
	return c.Path + " " + strings.Join(c.Args, " ")
}

// ConcatOptions controls a concat demuxer render
type ConcatOptions struct {
	FFmpegPath     string
	Output         string
	CopyMode       bool
	CopyAudio      bool
	Timelapse      float64 // 0 disables timestamp compression
	TimelapseAudio bool
	FrameSample    float64 // seconds of source per output frame, 0 disables
	SampleInterval float64 // set when inputs were already bucketed to one file per interval
	FPS            int
	Scale          string
	Encode         EncodeParams
	Progress       bool
	InputSeconds   float64
	InputFiles     int
}

// ImageSequenceOptions controls the second pass of a two-pass timelapse
type ImageSequenceOptions struct {
	FFmpegPath string
	Output     string
	FPS        int
	Scale      string
	Encode     EncodeParams
	Progress   bool
	Frames     int
}

// ConcatEntries renders one concat demuxer line per input
func ConcatEntries(inputs []string) []string {
	lines := make([]string, len(inputs))
	for i, in := range inputs {
		// Escape single quotes for ffmpeg concat format
		lines[i] = fmt.Sprintf("file '%s'", strings.ReplaceAll(in, "'", "'\\''"))
	}
	return lines
}

// WriteConcatFile writes the concat list to a new {dir}/.concat_{camera}_{unix}_{random}.txt,
// so jobs on the same camera started in the same second never share a list.
// ffmpeg needs a real file here; piped lists make it read numeric paths as descriptors.
func WriteConcatFile(dir, camera string, inputs []string, now time.Time) (string, error) {
	if len(inputs) == 0 {
		return "", fmt.Errorf("no inputs to concatenate")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create concat directory: %v", err)
	}

	pattern := fmt.Sprintf(".concat_%s_%d_*.txt", filepath.Base(camera), now.Unix())
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create concat list: %v", err)
	}
	content := strings.Join(ConcatEntries(inputs), "\n") + "\n"
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write concat list: %v", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write concat list: %v", err)
	}
	return f.Name(), nil
}

// needsEncode reports whether the render must re-encode video
func (o ConcatOptions) needsEncode() bool {
	return !o.CopyMode || o.Timelapse > 0 || o.FrameSample > 0 || o.SampleInterval > 0
}

// videoFilter builds the -filter:v chain for encode mode
func (o ConcatOptions) videoFilter() string {
	var parts []string
	switch {
	case o.SampleInterval > 0:
		parts = append(parts, "select='eq(n\\,0)'", fmt.Sprintf("setpts=N/%d/TB", o.FPS))
	case o.FrameSample > 0:
		parts = append(parts,
			fmt.Sprintf("select='isnan(prev_selected_t)+gte(t-prev_selected_t\\,%s)'", formatFactor(o.FrameSample)),
			fmt.Sprintf("setpts=N/%d/TB", o.FPS))
	case o.Timelapse > 0:
		parts = append(parts, "setpts=PTS/"+formatFactor(o.Timelapse))
	}
	if o.Scale != "" {
		if o.Encode.cudaDecode() {
			parts = append(parts, "scale_npp="+o.Scale)
		} else {
			parts = append(parts, "scale="+o.Scale)
		}
	}
	if o.Encode.hwUpload() {
		parts = append(parts, "format=nv12", "hwupload")
	}
	return strings.Join(parts, ",")
}

func (o ConcatOptions) audioArgs() []string {
	sampled := o.FrameSample > 0 || o.SampleInterval > 0
	if o.Timelapse > 0 || sampled {
		if !o.TimelapseAudio || sampled {
			return []string{"-an"}
		}
		return append(aacArgs(), "-filter:a", AtempoFilter(o.Timelapse))
	}
	if !o.needsEncode() && o.CopyAudio {
		return []string{"-c:a", "copy"}
	}
	return aacArgs()
}

func aacArgs() []string {
	return []string{"-c:a", "aac", "-b:a", "96k", "-ac", "1", "-ar", "48000"}
}

// BuildConcatCommand builds the ffmpeg command reading the concat list at concatPath
func BuildConcatCommand(concatPath string, opts ConcatOptions) (*Command, error) {
	if opts.Output == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.FPS <= 0 {
		return nil, fmt.Errorf("fps must be positive")
	}

	encode := opts.needsEncode()
	if encode {
		if _, err := opts.Encode.family(); err != nil {
			return nil, err
		}
	}

	args := []string{"-y"}
	if encode && opts.Encode.cudaDecode() {
		args = append(args, "-hwaccel", "cuda", "-hwaccel_output_format", "cuda")
	}
	args = append(args,
		"-protocol_whitelist", protocolWhitelist,
		"-f", "concat", "-safe", "0",
		"-i", concatPath,
	)

	if encode {
		args = append(args, "-r", strconv.Itoa(opts.FPS))
		args = append(args, opts.Encode.deviceArgs()...)
		if vf := opts.videoFilter(); vf != "" {
			args = append(args, "-filter:v", vf)
		}
		args = append(args, opts.Encode.codecArgs()...)
		args = append(args, opts.Encode.pixFmtArgs()...)
	} else {
		args = append(args, "-c:v", "copy")
	}
	args = append(args, opts.audioArgs()...)

	if opts.Progress {
		args = append(args, "-progress", "pipe:1", "-nostats")
	}
	args = append(args, "-movflags", "+faststart", opts.Output)

	return &Command{
		Path:            opts.FFmpegPath,
		Args:            args,
		ConcatFile:      concatPath,
		Output:          opts.Output,
		ExpectedSeconds: EstimateOutputSeconds(opts.InputSeconds, opts.InputFiles, opts.Timelapse, opts.FrameSample, opts.SampleInterval, opts.FPS),
	}, nil
}

// BuildImageSequenceCommand encodes {frameDir}/frame_%08d.webp into a video
func BuildImageSequenceCommand(frameDir string, opts ImageSequenceOptions) (*Command, error) {
	if opts.Output == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.FPS <= 0 {
		return nil, fmt.Errorf("fps must be positive")
	}
	family, err := opts.Encode.family()
	if err != nil {
		return nil, err
	}

	args := []string{
		"-y", "-hide_banner",
		"-framerate", strconv.Itoa(opts.FPS),
		"-i", filepath.Join(frameDir, FramePattern),
	}

	switch family {
	case FamilyQSV, FamilyVAAPI:
		args = append(args, opts.Encode.deviceArgs()...)
		vf := "format=nv12,hwupload"
		if opts.Scale != "" {
			vf = "scale=" + opts.Scale + "," + vf
		}
		args = append(args, "-filter:v", vf)
		args = append(args, opts.Encode.codecArgs()...)
	default:
		if opts.Scale != "" {
			args = append(args, "-filter:v", "scale="+opts.Scale)
		}
		args = append(args, opts.Encode.codecArgs()...)
		args = append(args, "-pix_fmt", "yuv420p")
	}

	if opts.Progress {
		args = append(args, "-progress", "pipe:1", "-nostats")
	}
	args = append(args, "-movflags", "+faststart", opts.Output)

	return &Command{
		Path:            opts.FFmpegPath,
		Args:            args,
		Output:          opts.Output,
		ExpectedSeconds: float64(opts.Frames) / float64(opts.FPS),
	}, nil
}

// TempoChain splits a speed factor into atempo stages, each within [0.5, 2.0]
func TempoChain(speed float64) []float64 {
	var factors []float64
	remaining := speed
	for remaining > 2.0+1e-9 {
		factors = append(factors, 2.0)
		remaining /= 2.0
	}
	if math.Abs(remaining-1.0) > 1e-9 {
		factors = append(factors, math.Max(0.5, math.Min(2.0, remaining)))
	}
	return factors
}

// AtempoFilter renders TempoChain as an ffmpeg audio filter
func AtempoFilter(speed float64) string {
	factors := TempoChain(speed)
	if len(factors) == 0 {
		return "atempo=1"
	}
	stages := make([]string, len(factors))
	for i, f := range factors {
		s := strings.TrimRight(strconv.FormatFloat(f, 'f', 6, 64), "0")
		stages[i] = "atempo=" + strings.TrimSuffix(s, ".")
	}
	return strings.Join(stages, ",")
}

// EstimateOutputSeconds predicts the output duration, used only for progress math
func EstimateOutputSeconds(inputSeconds float64, files int, timelapse, frameSample, sampleInterval float64, fps int) float64 {
	switch {
	case sampleInterval > 0 && fps > 0:
		return float64(files) / float64(fps)
	case frameSample > 0 && fps > 0:
		return inputSeconds / (frameSample * float64(fps))
	case timelapse > 0:
		return inputSeconds / timelapse
	}
	return inputSeconds
}

// formatFactor prints a float the way users type it: 50 -> "50.0", 2.5 -> "2.5"
func formatFactor(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// MontageName is the default montage output filename
func MontageName(camera, label, tag string, timelapse float64) string {
	suffix := tag
	if timelapse > 0 {
		suffix += "-timelapse" + formatFactor(timelapse) + "x"
	}
	return fmt.Sprintf("%s-animals-%s-%s.mp4", camera, label, suffix)
}

// TimelapseName is the default timelapse output filename
func TimelapseName(camera, label, tag string, timelapse, frameSample, sampleInterval float64) string {
	suffix := tag
	switch {
	case sampleInterval > 0:
		suffix += "-sample" + formatFactor(sampleInterval) + "s"
	case frameSample > 0:
		suffix += "-framesample" + formatFactor(frameSample) + "s"
	default:
		suffix += "-timelapse" + formatFactor(timelapse) + "x"
	}
	return fmt.Sprintf("%s-timelapse-%s-%s.mp4", camera, label, suffix)
}

// FormatDuration prints seconds as HH:MM:SS
func FormatDuration(seconds float64) string {
	total := int(math.Round(seconds))
	if total < 0 {
		total = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
