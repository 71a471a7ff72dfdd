package render

import (
	"fmt"
	"strconv"
	"strings"
)

// Family groups encoders that share a parameter set
type Family string

const (
	FamilyNVENC    Family = "nvenc"
	FamilyQSV      Family = "qsv"
	FamilyVAAPI    Family = "vaapi"
	FamilySoftware Family = "software"
)

// Encoder aliases resolved at run time by hardware detection
const (
	EncoderAuto     = "auto"
	EncoderAutoH264 = "auto_h264"
)

var encoderFamilies = map[string]Family{
	"h264_nvenc": FamilyNVENC,
	"hevc_nvenc": FamilyNVENC,
	"h264_qsv":   FamilyQSV,
	"hevc_qsv":   FamilyQSV,
	"h264_vaapi": FamilyVAAPI,
	"hevc_vaapi": FamilyVAAPI,
	"libx264":    FamilySoftware,
	"libx265":    FamilySoftware,
}

// FamilyOf returns the parameter family of a concrete encoder name
func FamilyOf(encoder string) (Family, bool) {
	f, ok := encoderFamilies[encoder]
	return f, ok
}

// ValidEncoder reports whether name is a concrete encoder or an auto alias
func ValidEncoder(name string) bool {
	if name == EncoderAuto || name == EncoderAutoH264 {
		return true
	}
	_, ok := encoderFamilies[name]
	return ok
}

// EncodeParams holds quality settings for one encoder. Zero values mean
// "leave the flag out" so ffmpeg falls back to its own defaults.
type EncodeParams struct {
	Encoder     string
	Preset      string
	Profile     string
	CQ          *int // nvenc -cq:v, qsv -global_quality, vaapi -qp
	CRF         *int // libx264/libx265 only
	MaxRate     string
	BufSize     string
	SpatialAQ   bool
	TemporalAQ  bool
	AQStrength  int
	GOP         int
	CUDA        bool
	QSVDevice   string
	VAAPIDevice string
}

// DefaultPreset mirrors each family's sensible speed/quality default
func DefaultPreset(encoder string) string {
	switch f, _ := FamilyOf(encoder); f {
	case FamilySoftware:
		return "slow"
	case FamilyQSV:
		return "medium"
	}
	return "p5"
}

// TimelapseParams returns the defaults used for timelapse renders
func TimelapseParams(encoder string) EncodeParams {
	p := EncodeParams{Encoder: encoder, Preset: DefaultPreset(encoder)}
	switch f, _ := FamilyOf(encoder); f {
	case FamilyNVENC:
		cq := 19
		p.CQ = &cq
		p.SpatialAQ = true
		p.TemporalAQ = true
		p.AQStrength = 8
	case FamilySoftware:
		crf := 18
		p.CRF = &crf
	}
	return p
}

// MontageParams returns the defaults used when a montage is re-encoded
func MontageParams(encoder string, fps int) EncodeParams {
	p := EncodeParams{Encoder: encoder, Preset: DefaultPreset(encoder)}
	switch f, _ := FamilyOf(encoder); f {
	case FamilyNVENC:
		cq := 23
		p.CQ = &cq
		p.Profile = "high"
		p.MaxRate = "6M"
		p.BufSize = "12M"
		p.SpatialAQ = true
		p.TemporalAQ = true
		p.AQStrength = 8
		p.GOP = 3 * fps
	case FamilySoftware:
		crf := 23
		p.CRF = &crf
	case FamilyQSV, FamilyVAAPI:
		cq := 23
		p.CQ = &cq
	}
	return p
}

func (p EncodeParams) family() (Family, error) {
	f, ok := FamilyOf(p.Encoder)
	if !ok {
		return "", fmt.Errorf("unsupported encoder: %s", p.Encoder)
	}
	return f, nil
}

// cudaDecode reports whether decode and scaling stay on the GPU
func (p EncodeParams) cudaDecode() bool {
	f, _ := FamilyOf(p.Encoder)
	return p.CUDA && f == FamilyNVENC
}

// deviceArgs are the global hardware device flags some families need before filters run
func (p EncodeParams) deviceArgs() []string {
	f, _ := FamilyOf(p.Encoder)
	switch f {
	case FamilyQSV:
		dev := "qsv=hw"
		if p.QSVDevice != "" {
			dev = "qsv=hw:" + p.QSVDevice
		}
		return []string{"-init_hw_device", dev, "-filter_hw_device", "hw"}
	case FamilyVAAPI:
		device := p.VAAPIDevice
		if device == "" {
			device = "/dev/dri/renderD128"
		}
		return []string{"-vaapi_device", device}
	}
	return nil
}

// hwUpload reports whether frames must be uploaded to the device in the filter chain
func (p EncodeParams) hwUpload() bool {
	f, _ := FamilyOf(p.Encoder)
	return f == FamilyQSV || f == FamilyVAAPI
}

// codecArgs builds the -c:v block for the encoder family
func (p EncodeParams) codecArgs() []string {
	f, _ := FamilyOf(p.Encoder)
	args := []string{"-c:v", p.Encoder}

	switch f {
	case FamilyNVENC:
		if p.Preset != "" {
			args = append(args, "-preset", p.Preset)
		}
		if p.Profile != "" {
			args = append(args, "-profile:v", p.Profile)
		}
		args = append(args, "-rc:v", "vbr_hq")
		if p.CQ != nil {
			args = append(args, "-cq:v", strconv.Itoa(*p.CQ))
		}
		if p.SpatialAQ {
			args = append(args, "-spatial-aq", "1")
			if p.AQStrength > 0 {
				args = append(args, "-aq-strength", strconv.Itoa(p.AQStrength))
			}
		}
		if p.TemporalAQ {
			args = append(args, "-temporal-aq", "1")
		}
		args = append(args, "-b:v", "0")
		if p.MaxRate != "" {
			args = append(args, "-maxrate:v", p.MaxRate)
		}
		if p.BufSize != "" {
			args = append(args, "-bufsize:v", p.BufSize)
		}
		if p.GOP > 0 {
			args = append(args, "-g", strconv.Itoa(p.GOP))
		}
	case FamilyQSV:
		if p.Preset != "" {
			args = append(args, "-preset", p.Preset)
		}
		if p.CQ != nil {
			args = append(args, "-global_quality", strconv.Itoa(*p.CQ))
		}
		args = append(args, p.rateArgs()...)
	case FamilyVAAPI:
		if p.CQ != nil {
			args = append(args, "-qp", strconv.Itoa(*p.CQ))
		}
		args = append(args, p.rateArgs()...)
	case FamilySoftware:
		if p.Preset != "" {
			args = append(args, "-preset", p.Preset)
		}
		if p.CRF != nil {
			args = append(args, "-crf", strconv.Itoa(*p.CRF))
		}
	}
	return args
}

func (p EncodeParams) rateArgs() []string {
	var args []string
	if p.MaxRate != "" {
		args = append(args, "-maxrate", p.MaxRate)
	}
	if p.BufSize != "" {
		args = append(args, "-bufsize", p.BufSize)
	}
	return args
}

// pixFmtArgs picks the output pixel format. CUDA frames keep their device format.
func (p EncodeParams) pixFmtArgs() []string {
	if p.hwUpload() {
		return []string{"-pix_fmt", "nv12"}
	}
	if p.cudaDecode() {
		return nil
	}
	return []string{"-pix_fmt", "yuv420p"}
}

// Describe is a short human readable summary written to the job log
func (p EncodeParams) Describe() string {
	parts := []string{p.Encoder}
	if p.Preset != "" {
		parts = append(parts, "preset="+p.Preset)
	}
	if p.CQ != nil {
		parts = append(parts, "cq="+strconv.Itoa(*p.CQ))
	}
	if p.CRF != nil {
		parts = append(parts, "crf="+strconv.Itoa(*p.CRF))
	}
	if p.SpatialAQ {
		parts = append(parts, "spatial-aq="+strconv.Itoa(p.AQStrength))
	}
	if p.TemporalAQ {
		parts = append(parts, "temporal-aq")
	}
	return strings.Join(parts, " ")
}
