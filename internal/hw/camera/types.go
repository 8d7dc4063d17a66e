// Package camera models the capture device: what can be asked of it
// (pipelines, facings, capabilities) and the backends that drive it.
package camera

import (
	"strings"

	"github.com/pkg/errors"
)

// Facing selects which physical camera is active.
type Facing int

const (
	Back Facing = iota
	Front
)

// Toggle returns the other facing.
func (f Facing) Toggle() Facing {
	if f == Back {
		return Front
	}
	return Back
}

func (f Facing) String() string {
	if f == Front {
		return "front"
	}
	return "back"
}

// ParseFacing accepts "back" or "front".
func ParseFacing(s string) (Facing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "back":
		return Back, nil
	case "front":
		return Front, nil
	}
	return Back, errors.Errorf("unknown facing %q (want back or front)", s)
}

// Mode determines which capture pipeline is bound next to the preview.
type Mode int

const (
	Photo Mode = iota
	Video
)

func (m Mode) String() string {
	if m == Video {
		return "video"
	}
	return "photo"
}

// ParseMode accepts "photo" or "video".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "photo":
		return Photo, nil
	case "video":
		return Video, nil
	}
	return Photo, errors.Errorf("unknown mode %q (want photo or video)", s)
}

// AspectRatio values are ordered from narrowest to widest.
type AspectRatio int

const (
	Ratio4x3 AspectRatio = iota
	Ratio16x9
)

func (a AspectRatio) String() string {
	if a == Ratio16x9 {
		return "16:9"
	}
	return "4:3"
}

// Width returns the frame width matching height at this ratio.
func (a AspectRatio) Width(height int) int {
	if a == Ratio16x9 {
		return height * 16 / 9
	}
	return height * 4 / 3
}

// ParseAspectRatio accepts "4:3" or "16:9".
func ParseAspectRatio(s string) (AspectRatio, error) {
	switch strings.TrimSpace(s) {
	case "4:3":
		return Ratio4x3, nil
	case "16:9":
		return Ratio16x9, nil
	}
	return Ratio4x3, errors.Errorf("unknown aspect ratio %q (want 4:3 or 16:9)", s)
}

// FlashMode is the still-capture flash setting. For a photo On pulses the
// torch around the capture. In video mode On lights the torch for the whole
// recording. Auto behaves like Off in both, as no light meter is available.
type FlashMode int

const (
	FlashAuto FlashMode = iota
	FlashOn
	FlashOff
)

func (f FlashMode) String() string {
	switch f {
	case FlashOn:
		return "on"
	case FlashOff:
		return "off"
	default:
		return "auto"
	}
}

// ParseFlashMode accepts "auto", "on" or "off".
func ParseFlashMode(s string) (FlashMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto":
		return FlashAuto, nil
	case "on":
		return FlashOn, nil
	case "off":
		return FlashOff, nil
	}
	return FlashAuto, errors.Errorf("unknown flash mode %q (want auto, on or off)", s)
}

// Quality is a video resolution class, ordered from lowest to highest.
type Quality int

const (
	QualitySD Quality = iota
	QualityHD
	QualityFHD
	QualityUHD
)

func (q Quality) String() string {
	switch q {
	case QualitySD:
		return "sd"
	case QualityHD:
		return "hd"
	case QualityFHD:
		return "fhd"
	default:
		return "uhd"
	}
}

// Height returns the nominal frame height in pixels.
func (q Quality) Height() int {
	switch q {
	case QualitySD:
		return 480
	case QualityHD:
		return 720
	case QualityFHD:
		return 1080
	default:
		return 2160
	}
}

// QualityForHeight returns the highest quality whose nominal height fits in h.
// ok is false when h is below SD.
func QualityForHeight(h int) (Quality, bool) {
	for q := QualityUHD; q >= QualitySD; q-- {
		if h >= q.Height() {
			return q, true
		}
	}
	return QualitySD, false
}

// ParseQuality accepts "sd", "hd", "fhd" or "uhd".
func ParseQuality(s string) (Quality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sd":
		return QualitySD, nil
	case "hd":
		return QualityHD, nil
	case "fhd":
		return QualityFHD, nil
	case "uhd":
		return QualityUHD, nil
	}
	return QualitySD, errors.Errorf("unknown quality %q (want sd, hd, fhd or uhd)", s)
}

// FrameRateRange is the auto-exposure target range in frames per second.
type FrameRateRange struct {
	Min int
	Max int
}

// TargetFrameRate builds the {30, fps} range used for recordings.
func TargetFrameRate(fps int) FrameRateRange {
	return FrameRateRange{Min: 30, Max: fps}
}

// PipelineConfig is the declarative capture configuration. It is rebuilt as
// a whole on every change; the device cannot reconfigure a pipeline in place.
type PipelineConfig struct {
	AspectRatio AspectRatio
	Flash       FlashMode
	Quality     Quality
	FrameRate   FrameRateRange
}

// PipelineKind identifies a capture path.
type PipelineKind int

const (
	KindPreview PipelineKind = iota
	KindPhoto
	KindVideo
)

func (k PipelineKind) String() string {
	switch k {
	case KindPhoto:
		return "photo"
	case KindVideo:
		return "video"
	default:
		return "preview"
	}
}

// Pipeline is an immutable descriptor of one capture path to bind.
type Pipeline struct {
	Kind        PipelineKind
	AspectRatio AspectRatio
	Flash       FlashMode
	Quality     Quality
	FrameRate   FrameRateRange
}

// ModeOf reports Video if any pipeline records video, Photo otherwise.
func ModeOf(pipelines []Pipeline) Mode {
	for _, p := range pipelines {
		if p.Kind == KindVideo {
			return Video
		}
	}
	return Photo
}

// Find returns the first pipeline of the given kind.
func Find(pipelines []Pipeline, kind PipelineKind) (Pipeline, bool) {
	for _, p := range pipelines {
		if p.Kind == kind {
			return p, true
		}
	}
	return Pipeline{}, false
}
