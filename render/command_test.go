package render

import (
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// argValue returns the argument following flag, or "" when flag is absent
func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func hasArg(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func TestTempoChain(t *testing.T) {
	tests := []struct {
		speed float64
		want  []float64
	}{
		{25, []float64{2, 2, 2, 2, 1.5625}},
		{3, []float64{2, 1.5}},
		{2, []float64{2}},
		{1, nil},
		{0.3, []float64{0.5}},
	}

	for _, tt := range tests {
		t.Run(formatFactor(tt.speed), func(t *testing.T) {
			got := TempoChain(tt.speed)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, got)
			}
			for _, f := range got {
				if f < 0.5 || f > 2.0 {
					t.Errorf("Stage %v outside [0.5, 2.0]", f)
				}
			}
		})
	}

	product := 1.0
	for _, f := range TempoChain(25) {
		product *= f
	}
	if math.Abs(product-25) > 1e-9 {
		t.Errorf("Expected chain product 25, got %v", product)
	}
}

func TestAtempoFilter(t *testing.T) {
	if got := AtempoFilter(25); got != "atempo=2,atempo=2,atempo=2,atempo=2,atempo=1.5625" {
		t.Errorf("Unexpected filter for 25x: %s", got)
	}
	if got := AtempoFilter(1); got != "atempo=1" {
		t.Errorf("Expected identity filter, got %s", got)
	}
}

func TestConcatEntriesEscapesQuotes(t *testing.T) {
	got := ConcatEntries([]string{"/rec/a.mp4", "/rec/it's.mp4"})
	want := []string{"file '/rec/a.mp4'", "file '/rec/it'\\''s.mp4'"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestWriteConcatFile(t *testing.T) {
	dir := t.TempDir()
	now := time.Unix(1714560000, 0)

	path, err := WriteConcatFile(dir, "feeder", []string{"/rec/a.mp4", "http://nvr/vod/feeder/start/1/end/2/master.m3u8"}, now)
	if err != nil {
		t.Fatalf("Failed to write concat file: %v", err)
	}
	if name := filepath.Base(path); !strings.HasPrefix(name, ".concat_feeder_1714560000_") || !strings.HasSuffix(name, ".txt") {
		t.Errorf("Unexpected concat file name: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read concat file: %v", err)
	}
	if !strings.HasPrefix(string(data), "file '/rec/a.mp4'\nfile 'http://") {
		t.Errorf("Unexpected concat content: %q", data)
	}

	if _, err := WriteConcatFile(dir, "feeder", nil, now); err == nil {
		t.Error("Expected error for empty input list")
	}
}

func TestWriteConcatFileSameSecond(t *testing.T) {
	dir := t.TempDir()
	now := time.Unix(1714560000, 0)

	first, err := WriteConcatFile(dir, "yard", []string{"/rec/job-a.mp4"}, now)
	if err != nil {
		t.Fatalf("Failed to write first concat file: %v", err)
	}
	second, err := WriteConcatFile(dir, "yard", []string{"/rec/job-b.mp4"}, now)
	if err != nil {
		t.Fatalf("Failed to write second concat file: %v", err)
	}
	if first == second {
		t.Fatalf("Expected distinct concat files, both are %s", first)
	}

	tests := []struct {
		path string
		want string
	}{
		{first, "file '/rec/job-a.mp4'\n"},
		{second, "file '/rec/job-b.mp4'\n"},
	}
	for _, tt := range tests {
		data, err := os.ReadFile(tt.path)
		if err != nil {
			t.Fatalf("Failed to read concat file: %v", err)
		}
		if string(data) != tt.want {
			t.Errorf("%s: expected %q, got %q", filepath.Base(tt.path), tt.want, data)
		}
	}
}

func TestBuildConcatCommandCopyMode(t *testing.T) {
	cmd, err := BuildConcatCommand("/tmp/list.txt", ConcatOptions{
		Output:       "/out/a.mp4",
		CopyMode:     true,
		CopyAudio:    true,
		FPS:          30,
		Progress:     true,
		InputSeconds: 90,
		Encode:       EncodeParams{Encoder: "not-an-encoder"},
	})
	if err != nil {
		t.Fatalf("Failed to build command: %v", err)
	}

	if cmd.Path != "ffmpeg" {
		t.Errorf("Expected default ffmpeg path, got %s", cmd.Path)
	}
	if argValue(cmd.Args, "-c:v") != "copy" || argValue(cmd.Args, "-c:a") != "copy" {
		t.Errorf("Expected stream copy, got %v", cmd.Args)
	}
	if argValue(cmd.Args, "-protocol_whitelist") != protocolWhitelist || argValue(cmd.Args, "-i") != "/tmp/list.txt" {
		t.Errorf("Expected concat input with whitelist, got %v", cmd.Args)
	}
	if argValue(cmd.Args, "-progress") != "pipe:1" || !hasArg(cmd.Args, "-nostats") {
		t.Errorf("Expected machine progress flags, got %v", cmd.Args)
	}
	if cmd.Args[len(cmd.Args)-1] != "/out/a.mp4" || argValue(cmd.Args, "-movflags") != "+faststart" {
		t.Errorf("Expected output last with faststart, got %v", cmd.Args)
	}
	if cmd.ExpectedSeconds != 90 {
		t.Errorf("Expected 90s estimate, got %v", cmd.ExpectedSeconds)
	}
}

func TestBuildConcatCommandEncodeFamilies(t *testing.T) {
	tests := []struct {
		name    string
		opts    ConcatOptions
		want    map[string]string
		absent  []string
		vfCheck func(string) bool
	}{
		{
			name: "nvenc timelapse",
			opts: ConcatOptions{Timelapse: 50, FPS: 20, Encode: TimelapseParams("hevc_nvenc")},
			want: map[string]string{"-c:v": "hevc_nvenc", "-cq:v": "19", "-preset": "p5", "-rc:v": "vbr_hq", "-pix_fmt": "yuv420p", "-r": "20", "-aq-strength": "8"},
			vfCheck: func(vf string) bool {
				return vf == "setpts=PTS/50.0"
			},
		},
		{
			name: "software crf",
			opts: ConcatOptions{Timelapse: 10, FPS: 20, Encode: TimelapseParams("libx265")},
			want: map[string]string{"-c:v": "libx265", "-crf": "18", "-preset": "slow"},
			absent: []string{"-cq:v", "-rc:v"},
		},
		{
			name: "qsv uploads frames",
			opts: ConcatOptions{Timelapse: 10, FPS: 20, Encode: EncodeParams{Encoder: "hevc_qsv", Preset: "medium", QSVDevice: "/dev/dri/renderD129"}},
			want: map[string]string{"-init_hw_device": "qsv=hw:/dev/dri/renderD129", "-filter_hw_device": "hw", "-pix_fmt": "nv12"},
			vfCheck: func(vf string) bool {
				return strings.HasSuffix(vf, ",format=nv12,hwupload")
			},
		},
		{
			name: "vaapi default device",
			opts: ConcatOptions{Timelapse: 10, FPS: 20, Encode: EncodeParams{Encoder: "h264_vaapi", CQ: intPtr(25)}},
			want: map[string]string{"-vaapi_device": "/dev/dri/renderD128", "-qp": "25"},
		},
		{
			name: "cuda keeps frames on device",
			opts: ConcatOptions{Timelapse: 10, FPS: 20, Scale: "1280:-2", Encode: EncodeParams{Encoder: "h264_nvenc", CUDA: true}},
			want: map[string]string{"-hwaccel": "cuda", "-hwaccel_output_format": "cuda"},
			absent: []string{"-pix_fmt"},
			vfCheck: func(vf string) bool {
				return vf == "setpts=PTS/10.0,scale_npp=1280:-2"
			},
		},
		{
			name: "frame sample",
			opts: ConcatOptions{FrameSample: 10, FPS: 20, Encode: TimelapseParams("libx264")},
			want: map[string]string{"-c:v": "libx264"},
			vfCheck: func(vf string) bool {
				return vf == "select='isnan(prev_selected_t)+gte(t-prev_selected_t\\,10.0)',setpts=N/20/TB"
			},
		},
		{
			name: "forced encode of montage",
			opts: ConcatOptions{FPS: 30, Encode: MontageParams("h264_nvenc", 30)},
			want: map[string]string{"-profile:v": "high", "-maxrate:v": "6M", "-bufsize:v": "12M", "-g": "90", "-c:a": "aac", "-b:a": "96k"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Output = "/out/x.mp4"
			cmd, err := BuildConcatCommand("/tmp/list.txt", tt.opts)
			if err != nil {
				t.Fatalf("Failed to build command: %v", err)
			}
			for flag, val := range tt.want {
				if got := argValue(cmd.Args, flag); got != val {
					t.Errorf("Expected %s %s, got %q in %v", flag, val, got, cmd.Args)
				}
			}
			for _, flag := range tt.absent {
				if hasArg(cmd.Args, flag) {
					t.Errorf("Expected %s to be absent in %v", flag, cmd.Args)
				}
			}
			if tt.vfCheck != nil && !tt.vfCheck(argValue(cmd.Args, "-filter:v")) {
				t.Errorf("Unexpected video filter %q", argValue(cmd.Args, "-filter:v"))
			}
		})
	}
}

func TestBuildConcatCommandAudio(t *testing.T) {
	silent, err := BuildConcatCommand("l.txt", ConcatOptions{Output: "o.mp4", Timelapse: 25, FPS: 20, Encode: TimelapseParams("libx264")})
	if err != nil {
		t.Fatalf("Failed to build command: %v", err)
	}
	if !hasArg(silent.Args, "-an") {
		t.Errorf("Expected audio dropped for timelapse, got %v", silent.Args)
	}

	withAudio, err := BuildConcatCommand("l.txt", ConcatOptions{Output: "o.mp4", Timelapse: 25, TimelapseAudio: true, FPS: 20, Encode: TimelapseParams("libx264")})
	if err != nil {
		t.Fatalf("Failed to build command: %v", err)
	}
	if argValue(withAudio.Args, "-filter:a") != AtempoFilter(25) {
		t.Errorf("Expected atempo chain, got %v", withAudio.Args)
	}
	if withAudio.ExpectedSeconds != 0 {
		t.Errorf("Expected zero estimate without input seconds, got %v", withAudio.ExpectedSeconds)
	}
}

func TestBuildConcatCommandErrors(t *testing.T) {
	if _, err := BuildConcatCommand("l.txt", ConcatOptions{Output: "o.mp4", Timelapse: 5, FPS: 20, Encode: EncodeParams{Encoder: "mpeg2"}}); err == nil {
		t.Error("Expected unsupported encoder error")
	}
	if _, err := BuildConcatCommand("l.txt", ConcatOptions{FPS: 20, CopyMode: true}); err == nil {
		t.Error("Expected missing output error")
	}
	if _, err := BuildConcatCommand("l.txt", ConcatOptions{Output: "o.mp4", CopyMode: true}); err == nil {
		t.Error("Expected fps error")
	}
}

func TestBuildImageSequenceCommand(t *testing.T) {
	cmd, err := BuildImageSequenceCommand("/tmp/frames", ImageSequenceOptions{
		Output: "/out/t.mp4",
		FPS:    20,
		Scale:  "1920:-2",
		Encode: TimelapseParams("hevc_nvenc"),
		Frames: 400,
	})
	if err != nil {
		t.Fatalf("Failed to build command: %v", err)
	}
	if argValue(cmd.Args, "-i") != filepath.Join("/tmp/frames", "frame_%08d.webp") {
		t.Errorf("Unexpected input pattern: %v", cmd.Args)
	}
	if argValue(cmd.Args, "-framerate") != "20" || argValue(cmd.Args, "-filter:v") != "scale=1920:-2" {
		t.Errorf("Unexpected framerate or filter: %v", cmd.Args)
	}
	if cmd.ExpectedSeconds != 20 {
		t.Errorf("Expected 20s output, got %v", cmd.ExpectedSeconds)
	}

	vaapi, err := BuildImageSequenceCommand("/tmp/frames", ImageSequenceOptions{Output: "o.mp4", FPS: 20, Encode: EncodeParams{Encoder: "hevc_vaapi"}})
	if err != nil {
		t.Fatalf("Failed to build vaapi command: %v", err)
	}
	if argValue(vaapi.Args, "-filter:v") != "format=nv12,hwupload" {
		t.Errorf("Expected hardware upload filter, got %v", vaapi.Args)
	}
}

func TestEstimateOutputSeconds(t *testing.T) {
	tests := []struct {
		name                                string
		input                               float64
		files                               int
		timelapse, frameSample, sampleEvery float64
		want                                float64
	}{
		{"realtime", 120, 0, 0, 0, 0, 120},
		{"timelapse", 86400, 0, 50, 0, 0, 1728},
		{"frame sample", 86400, 0, 0, 10, 0, 432},
		{"sample interval", 86400, 1440, 0, 0, 60, 72},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EstimateOutputSeconds(tt.input, tt.files, tt.timelapse, tt.frameSample, tt.sampleEvery, 20)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestOutputNames(t *testing.T) {
	if got := MontageName("feeder", "2024-05-01", "fullday", 0); got != "feeder-animals-2024-05-01-fullday.mp4" {
		t.Errorf("Unexpected montage name: %s", got)
	}
	if got := MontageName("feeder", "2024-05-01", "dawntodusk", 25); got != "feeder-animals-2024-05-01-dawntodusk-timelapse25.0x.mp4" {
		t.Errorf("Unexpected montage timelapse name: %s", got)
	}

	tests := []struct {
		timelapse, frameSample, sampleInterval float64
		want                                   string
	}{
		{50, 0, 0, "yard-timelapse-2024-05-01_to_2024-05-07-fullday-timelapse50.0x.mp4"},
		{50, 2.5, 0, "yard-timelapse-2024-05-01_to_2024-05-07-fullday-framesample2.5s.mp4"},
		{50, 0, 60, "yard-timelapse-2024-05-01_to_2024-05-07-fullday-sample60.0s.mp4"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := TimelapseName("yard", "2024-05-01_to_2024-05-07", "fullday", tt.timelapse, tt.frameSample, tt.sampleInterval)
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	if got := FormatDuration(3725.4); got != "01:02:05" {
		t.Errorf("Expected 01:02:05, got %s", got)
	}
}

func TestEncoderHelpers(t *testing.T) {
	for _, name := range []string{"auto", "auto_h264", "hevc_nvenc", "libx264", "h264_vaapi"} {
		if !ValidEncoder(name) {
			t.Errorf("Expected %s to be valid", name)
		}
	}
	if ValidEncoder("mpeg4") {
		t.Error("Expected mpeg4 to be rejected")
	}
	if DefaultPreset("libx265") != "slow" || DefaultPreset("h264_qsv") != "medium" || DefaultPreset("hevc_nvenc") != "p5" {
		t.Error("Unexpected default presets")
	}
}

func intPtr(v int) *int {
	return &v
}
