package render

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// MediaInfo is what ffprobe reports about a rendered file
type MediaInfo struct {
	Duration float64 `json:"duration"`
	Format   string  `json:"format"`
	Codec    string  `json:"codec,omitempty"`
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	BitRate  int64   `json:"bitRate,omitempty"`
}

// FFprobePath returns the ffprobe binary next to ffmpegPath. A bare
// "ffmpeg" resolves to a bare "ffprobe" looked up in PATH.
func FFprobePath(ffmpegPath string) string {
	dir, base := filepath.Split(ffmpegPath)
	ext := filepath.Ext(base)
	if strings.TrimSuffix(base, ext) != "ffmpeg" {
		return "ffprobe"
	}
	return dir + "ffprobe" + ext
}

// ProbeMedia runs ffprobe on path
func ProbeMedia(ctx context.Context, ffprobePath, path string) (*MediaInfo, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("video file does not exist: %s", path)
	}

	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to probe video using ffprobe: %v", err)
	}
	return parseProbeOutput(output)
}

func parseProbeOutput(output []byte) (*MediaInfo, error) {
	var probe struct {
		Format struct {
			FormatName string `json:"format_name"`
			Duration   string `json:"duration"`
			BitRate    string `json:"bit_rate"`
		} `json:"format"`
		Streams []struct {
			CodecType string `json:"codec_type"`
			CodecName string `json:"codec_name"`
			Width     int    `json:"width"`
			Height    int    `json:"height"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %v", err)
	}
	if probe.Format.Duration == "" {
		return nil, fmt.Errorf("empty duration output from ffprobe")
	}

	duration, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse duration %q: %v", probe.Format.Duration, err)
	}
	info := &MediaInfo{Duration: duration, Format: probe.Format.FormatName}
	if probe.Format.BitRate != "" {
		info.BitRate, _ = strconv.ParseInt(probe.Format.BitRate, 10, 64)
	}
	for _, s := range probe.Streams {
		if s.CodecType == "video" {
			info.Codec = s.CodecName
			info.Width = s.Width
			info.Height = s.Height
			break
		}
	}
	return info, nil
}
