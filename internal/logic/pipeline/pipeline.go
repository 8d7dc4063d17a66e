// Package pipeline turns a declarative capture configuration into the
// pipeline descriptors handed to the device.
package pipeline

import (
	"cmp"
	"slices"
	"strconv"

	"github.com/cjeanneret/CamGo/internal/hw/camera"
)

// Substitution records a requested value the device could not honor and
// the value used instead.
type Substitution struct {
	Field     string
	Requested string
	Used      string
}

// Resolve fits cfg to caps. Each unsupported value is replaced by the
// nearest supported one above it, or below it when nothing is above.
// An empty capability list accepts any value.
func Resolve(cfg camera.PipelineConfig, caps camera.Capabilities) (camera.PipelineConfig, []Substitution) {
	var subs []Substitution
	out := cfg

	out.AspectRatio = nearest(cfg.AspectRatio, caps.AspectRatios)
	if out.AspectRatio != cfg.AspectRatio {
		subs = append(subs, Substitution{"aspect_ratio", cfg.AspectRatio.String(), out.AspectRatio.String()})
	}
	out.Quality = nearest(cfg.Quality, caps.Qualities)
	if out.Quality != cfg.Quality {
		subs = append(subs, Substitution{"quality", cfg.Quality.String(), out.Quality.String()})
	}
	if fps := nearest(cfg.FrameRate.Max, caps.FrameRates); fps != cfg.FrameRate.Max {
		out.FrameRate = camera.TargetFrameRate(fps)
		subs = append(subs, Substitution{"fps", strconv.Itoa(cfg.FrameRate.Max), strconv.Itoa(fps)})
	}
	return out, subs
}

// Build returns a preview pipeline and one capture pipeline for mode.
// It never fails: unsupported values fall back as in Resolve.
func Build(cfg camera.PipelineConfig, mode camera.Mode, caps camera.Capabilities) []camera.Pipeline {
	pipelines, _ := BuildResolved(cfg, mode, caps)
	return pipelines
}

// BuildResolved is Build that also reports the substitutions it made.
func BuildResolved(
	cfg camera.PipelineConfig,
	mode camera.Mode,
	caps camera.Capabilities,
) ([]camera.Pipeline, []Substitution) {
	resolved, subs := Resolve(cfg, caps)
	preview := camera.Pipeline{Kind: camera.KindPreview, AspectRatio: resolved.AspectRatio}

	if mode == camera.Video {
		return []camera.Pipeline{preview, {
			Kind:        camera.KindVideo,
			AspectRatio: resolved.AspectRatio,
			Flash:       resolved.Flash,
			Quality:     resolved.Quality,
			FrameRate:   resolved.FrameRate,
		}}, subs
	}

	// stills ignore quality and frame rate
	subs = slices.DeleteFunc(subs, func(s Substitution) bool { return s.Field != "aspect_ratio" })
	return []camera.Pipeline{preview, {
		Kind:        camera.KindPhoto,
		AspectRatio: resolved.AspectRatio,
		Flash:       resolved.Flash,
	}}, subs
}

func nearest[T cmp.Ordered](want T, supported []T) T {
	if len(supported) == 0 || slices.Contains(supported, want) {
		return want
	}
	var (
		above, below       T
		hasAbove, hasBelow bool
	)
	for _, s := range supported {
		switch {
		case s > want && (!hasAbove || s < above):
			above, hasAbove = s, true
		case s < want && (!hasBelow || s > below):
			below, hasBelow = s, true
		}
	}
	if hasAbove {
		return above
	}
	return below
}
