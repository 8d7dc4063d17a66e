// Package settings holds the declarative capture configuration. Every
// change is followed by a rebind with the new values.
package settings

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/cjeanneret/CamGo/internal/hw/camera"
)

// ErrInvalidSetting is returned for values outside their domain. The store
// is left untouched.
var ErrInvalidSetting = errors.New("invalid setting")

// Settings is one consistent view of the configuration.
type Settings struct {
	Facing   camera.Facing
	Mode     camera.Mode
	Pipeline camera.PipelineConfig
}

// Defaults match a fresh install: back camera, photo, 4:3, auto flash, UHD, 30 fps.
func Defaults() Settings {
	return Settings{
		Facing: camera.Back,
		Mode:   camera.Photo,
		Pipeline: camera.PipelineConfig{
			AspectRatio: camera.Ratio4x3,
			Flash:       camera.FlashAuto,
			Quality:     camera.QualityUHD,
			FrameRate:   camera.TargetFrameRate(30),
		},
	}
}

// RebindFunc applies a snapshot to the device.
type RebindFunc func(Settings) error

// Store owns the configuration. Setters must run on the session executor;
// Snapshot is safe from any goroutine.
type Store struct {
	logger *zap.SugaredLogger
	rebind RebindFunc

	mu sync.RWMutex
	s  Settings
}

// NewStore returns a store holding initial. rebind may be nil until SetRebind.
func NewStore(initial Settings, rebind RebindFunc, logger *zap.SugaredLogger) *Store {
	return &Store{s: initial, rebind: rebind, logger: logger}
}

// SetRebind installs the rebind signal.
func (st *Store) SetRebind(rebind RebindFunc) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.rebind = rebind
}

// Snapshot returns the current configuration.
func (st *Store) Snapshot() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s
}

func (st *Store) update(field string, value interface{}, mutate func(*Settings)) error {
	st.mu.Lock()
	mutate(&st.s)
	snap := st.s
	rebind := st.rebind
	st.mu.Unlock()

	st.logger.Debugw("setting changed", "field", field, "value", value)
	if rebind == nil {
		return nil
	}
	return rebind(snap)
}

func (st *Store) SetAspectRatio(r camera.AspectRatio) error {
	if r != camera.Ratio4x3 && r != camera.Ratio16x9 {
		return errors.Wrapf(ErrInvalidSetting, "aspect ratio %d", r)
	}
	return st.update("aspect_ratio", r, func(s *Settings) { s.Pipeline.AspectRatio = r })
}

func (st *Store) SetFlashMode(f camera.FlashMode) error {
	if f != camera.FlashAuto && f != camera.FlashOn && f != camera.FlashOff {
		return errors.Wrapf(ErrInvalidSetting, "flash mode %d", f)
	}
	return st.update("flash", f, func(s *Settings) { s.Pipeline.Flash = f })
}

func (st *Store) SetQuality(q camera.Quality) error {
	if q < camera.QualitySD || q > camera.QualityUHD {
		return errors.Wrapf(ErrInvalidSetting, "quality %d", q)
	}
	return st.update("quality", q, func(s *Settings) { s.Pipeline.Quality = q })
}

// SetFrameRate accepts 30 or 60 and targets the {30, fps} range.
func (st *Store) SetFrameRate(fps int) error {
	if fps != 30 && fps != 60 {
		return errors.Wrapf(ErrInvalidSetting, "frame rate %d (want 30 or 60)", fps)
	}
	return st.update("fps", fps, func(s *Settings) { s.Pipeline.FrameRate = camera.TargetFrameRate(fps) })
}

func (st *Store) SetFacing(f camera.Facing) error {
	if f != camera.Back && f != camera.Front {
		return errors.Wrapf(ErrInvalidSetting, "facing %d", f)
	}
	return st.update("facing", f, func(s *Settings) { s.Facing = f })
}

// SwitchFacing flips between back and front.
func (st *Store) SwitchFacing() error {
	return st.update("facing", "toggle", func(s *Settings) { s.Facing = s.Facing.Toggle() })
}

func (st *Store) SetMode(m camera.Mode) error {
	if m != camera.Photo && m != camera.Video {
		return errors.Wrapf(ErrInvalidSetting, "mode %d", m)
	}
	return st.update("mode", m, func(s *Settings) { s.Mode = m })
}

// Change is one setter call, built ahead of time and applied on the executor.
type Change struct {
	desc  string
	apply func(*Store) error
}

func (c Change) String() string { return c.desc }

// Apply runs the setter on st.
func (c Change) Apply(st *Store) error {
	if c.apply == nil {
		return errors.Wrap(ErrInvalidSetting, "empty change")
	}
	return c.apply(st)
}

func AspectRatio(r camera.AspectRatio) Change {
	return Change{"aspect_ratio=" + r.String(), func(st *Store) error { return st.SetAspectRatio(r) }}
}

func Flash(f camera.FlashMode) Change {
	return Change{"flash=" + f.String(), func(st *Store) error { return st.SetFlashMode(f) }}
}

func Quality(q camera.Quality) Change {
	return Change{"quality=" + q.String(), func(st *Store) error { return st.SetQuality(q) }}
}

func FrameRate(fps int) Change {
	return Change{fmt.Sprintf("fps=%d", fps), func(st *Store) error { return st.SetFrameRate(fps) }}
}

func Facing(f camera.Facing) Change {
	return Change{"facing=" + f.String(), func(st *Store) error { return st.SetFacing(f) }}
}

func SwitchFacing() Change {
	return Change{"facing=toggle", func(st *Store) error { return st.SwitchFacing() }}
}

func Mode(m camera.Mode) Change {
	return Change{"mode=" + m.String(), func(st *Store) error { return st.SetMode(m) }}
}
