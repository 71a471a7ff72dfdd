package recording

import (
	"log"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
)

// HWAccelType represents the type of hardware acceleration available
type HWAccelType string

const (
	HWAccelNone   HWAccelType = "none"
	HWAccelIntel  HWAccelType = "qsv"   // Intel Quick Sync Video
	HWAccelNVIDIA HWAccelType = "nvenc" // NVIDIA NVENC
	HWAccelVAAPI  HWAccelType = "vaapi" // Linux VA-API
)

// HWAccelConfig describes the encoders usable on this host
type HWAccelConfig struct {
	Type        HWAccelType
	Available   bool
	Device      string
	EncoderH264 string
	EncoderHEVC string
}

// Encoder picks the HEVC or H.264 encoder of this config
func (hw HWAccelConfig) Encoder(hevc bool) string {
	if hevc {
		return hw.EncoderHEVC
	}
	return hw.EncoderH264
}

var softwareConfig = HWAccelConfig{
	Type:        HWAccelNone,
	EncoderH264: "libx264",
	EncoderHEVC: "libx265",
}

var (
	detectOnce sync.Once
	detected   HWAccelConfig
)

// DetectHardwareAcceleration probes ffmpeg once per process and caches the result
func DetectHardwareAcceleration(ffmpegPath string) HWAccelConfig {
	detectOnce.Do(func() {
		detected = detectHardwareAcceleration(ffmpegPath)
	})
	return detected
}

func detectHardwareAcceleration(ffmpegPath string) HWAccelConfig {
	log.Println("[hwaccel] Detecting hardware acceleration capabilities...")

	encoders := listFFmpegEncoders(ffmpegPath)
	if encoders == "" {
		log.Println("[hwaccel] ffmpeg encoder list unavailable, using software encoding")
		return softwareConfig
	}

	nvidia := HWAccelConfig{Type: HWAccelNVIDIA, EncoderH264: "h264_nvenc", EncoderHEVC: "hevc_nvenc"}
	if strings.Contains(encoders, "hevc_nvenc") && testEncoder(ffmpegPath, nil, "hevc_nvenc") {
		nvidia.Available = true
		log.Println("[hwaccel] NVIDIA NVENC available")
		return nvidia
	}

	if runtime.GOOS == "linux" {
		vaapi := HWAccelConfig{Type: HWAccelVAAPI, Device: "/dev/dri/renderD128", EncoderH264: "h264_vaapi", EncoderHEVC: "hevc_vaapi"}
		if _, err := os.Stat(vaapi.Device); err == nil && strings.Contains(encoders, "hevc_vaapi") {
			args := []string{"-vaapi_device", vaapi.Device, "-vf", "format=nv12,hwupload"}
			if testEncoder(ffmpegPath, args, "hevc_vaapi") {
				vaapi.Available = true
				log.Println("[hwaccel] VA-API available")
				return vaapi
			}
		}
	}

	qsv := HWAccelConfig{Type: HWAccelIntel, EncoderH264: "h264_qsv", EncoderHEVC: "hevc_qsv"}
	if strings.Contains(encoders, "hevc_qsv") {
		for _, device := range qsvDevices() {
			args := []string{"-init_hw_device", "qsv=hw:" + device, "-filter_hw_device", "hw", "-vf", "format=nv12,hwupload=extra_hw_frames=64"}
			if device == "auto" {
				args = []string{"-init_hw_device", "qsv=hw", "-filter_hw_device", "hw", "-vf", "format=nv12,hwupload=extra_hw_frames=64"}
			}
			if testEncoder(ffmpegPath, args, "hevc_qsv") {
				qsv.Available = true
				if device != "auto" {
					qsv.Device = device
				}
				log.Printf("[hwaccel] Intel QSV available (device %s)", device)
				return qsv
			}
		}
	}

	log.Println("[hwaccel] No hardware acceleration available, using software encoding")
	return softwareConfig
}

// listFFmpegEncoders returns the raw `ffmpeg -encoders` listing, or "" on failure
func listFFmpegEncoders(ffmpegPath string) string {
	output, err := exec.Command(ffmpegPath, "-hide_banner", "-encoders").Output()
	if err != nil {
		log.Printf("[hwaccel] Failed to check FFmpeg encoders: %v", err)
		return ""
	}
	return string(output)
}

// testEncoder runs a one-second synthetic encode with the given encoder
func testEncoder(ffmpegPath string, extra []string, encoder string) bool {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "lavfi",
		"-i", "testsrc2=duration=1:size=320x240:rate=1",
	}
	args = append(args, extra...)
	args = append(args, "-c:v", encoder, "-f", "null", "-")

	if err := exec.Command(ffmpegPath, args...).Run(); err != nil {
		log.Printf("[hwaccel] %s test encode failed: %v", encoder, err)
		return false
	}
	return true
}

func qsvDevices() []string {
	if runtime.GOOS == "windows" {
		return []string{"auto"}
	}
	return []string{"/dev/dri/renderD128", "/dev/dri/renderD129", "auto"}
}

// ResolveEncoder maps "auto", "auto_h264" or "" to a detected encoder and
// passes explicit encoder names through unchanged.
func ResolveEncoder(requested, ffmpegPath string) (string, HWAccelConfig) {
	switch requested {
	case "", "auto":
		hw := DetectHardwareAcceleration(ffmpegPath)
		return hw.Encoder(true), hw
	case "auto_h264":
		hw := DetectHardwareAcceleration(ffmpegPath)
		return hw.Encoder(false), hw
	}
	return requested, HWAccelConfig{}
}
