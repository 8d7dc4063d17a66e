package camera

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	goutils "go.viam.com/utils"
)

// DefaultBackCapabilities mirrors a typical phone main camera.
func DefaultBackCapabilities() Capabilities {
	return Capabilities{
		AspectRatios: []AspectRatio{Ratio4x3, Ratio16x9},
		Qualities:    []Quality{QualityHD, QualityFHD, QualityUHD},
		FrameRates:   []int{30, 60},
		HasFlashUnit: true,
		ZoomMin:      1,
		ZoomMax:      10,
	}
}

// DefaultFrontCapabilities mirrors a typical selfie camera: no flash, no UHD, 30 fps.
func DefaultFrontCapabilities() Capabilities {
	return Capabilities{
		AspectRatios: []AspectRatio{Ratio4x3, Ratio16x9},
		Qualities:    []Quality{QualitySD, QualityHD, QualityFHD},
		FrameRates:   []int{30},
		ZoomMin:      1,
		ZoomMax:      4,
	}
}

// SimulatedConfig configures a Simulated device.
type SimulatedConfig struct {
	Back  Capabilities
	Front Capabilities
	// Torch, when set, gives every facing a flash unit driven by it.
	Torch Torch
	// BindLatency delays every Bind, to mimic device negotiation.
	BindLatency time.Duration
}

// BindRecord is one entry of a Simulated device's bind history.
type BindRecord struct {
	Scope     string
	Facing    Facing
	Pipelines []Pipeline
	Err       error
}

// Simulated is an in-memory device. It enforces the same rules as real
// hardware: one binding at a time, no photo+video in one bind, pipelines
// within the facing's capabilities, and controls invalidated on unbind.
type Simulated struct {
	cfg    SimulatedConfig
	logger *zap.SugaredLogger

	mu       sync.Mutex
	bound    *simControl
	history  []BindRecord
	unbinds  int
	failNext error
	closed   bool

	workers sync.WaitGroup
}

// NewSimulated returns a simulated device. Zero capabilities fall back to the defaults.
func NewSimulated(cfg SimulatedConfig, logger *zap.SugaredLogger) *Simulated {
	if len(cfg.Back.Qualities) == 0 {
		cfg.Back = DefaultBackCapabilities()
	}
	if len(cfg.Front.Qualities) == 0 {
		cfg.Front = DefaultFrontCapabilities()
	}
	if cfg.Torch != nil {
		cfg.Back.HasFlashUnit = true
		cfg.Front.HasFlashUnit = true
	}
	return &Simulated{cfg: cfg, logger: logger}
}

// Capabilities implements Device.
func (s *Simulated) Capabilities(facing Facing) (Capabilities, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Capabilities{}, ErrDeviceUnavailable
	}
	return s.capsLocked(facing), nil
}

func (s *Simulated) capsLocked(facing Facing) Capabilities {
	if facing == Front {
		return s.cfg.Front
	}
	return s.cfg.Back
}

// FailNextBind makes the next Bind fail with err.
func (s *Simulated) FailNextBind(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// History returns every Bind attempt in arrival order.
func (s *Simulated) History() []BindRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// Unbinds returns how many times UnbindAll was called.
func (s *Simulated) Unbinds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unbinds
}

// Bind implements Device.
func (s *Simulated) Bind(ctx context.Context, scope Scope, facing Facing, pipelines []Pipeline) (Control, error) {
	if s.cfg.BindLatency > 0 && !goutils.SelectContextOrWait(ctx, s.cfg.BindLatency) {
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctrl, err := s.bindLocked(scope, facing, pipelines)
	s.history = append(s.history, BindRecord{
		Scope:     scope.Name(),
		Facing:    facing,
		Pipelines: slices.Clone(pipelines),
		Err:       err,
	})
	if err != nil {
		return nil, err
	}

	s.bound = ctrl
	s.workers.Add(1)
	goutils.ManagedGo(func() {
		select {
		case <-scope.Done():
			s.logger.Debugw("scope torn down, unbinding", "scope", scope.Name())
			s.mu.Lock()
			if s.bound == ctrl {
				s.bound = nil
			}
			s.mu.Unlock()
			ctrl.invalidate()
		case <-ctrl.unbound:
		}
	}, s.workers.Done)

	return ctrl, nil
}

func (s *Simulated) bindLocked(scope Scope, facing Facing, pipelines []Pipeline) (*simControl, error) {
	if s.closed {
		return nil, ErrDeviceUnavailable
	}
	if err := scope.Err(); err != nil {
		return nil, ErrScopeClosed
	}
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return nil, err
	}
	if s.bound != nil {
		return nil, ErrDeviceBusy
	}
	_, hasPhoto := Find(pipelines, KindPhoto)
	_, hasVideo := Find(pipelines, KindVideo)
	if hasPhoto && hasVideo {
		return nil, ErrUnsupportedCombination
	}

	caps := s.capsLocked(facing)
	for _, p := range pipelines {
		if err := checkPipeline(caps, p); err != nil {
			return nil, err
		}
	}

	ctrl := &simControl{
		device:    s,
		facing:    facing,
		pipelines: slices.Clone(pipelines),
		caps:      caps,
		unbound:   make(chan struct{}),
	}
	ctrl.zoom.Store(caps.ZoomMin)
	ctrl.live.Store(true)
	return ctrl, nil
}

func checkPipeline(caps Capabilities, p Pipeline) error {
	if len(caps.AspectRatios) > 0 && !slices.Contains(caps.AspectRatios, p.AspectRatio) {
		return errors.Wrapf(ErrUnsupportedPipeline, "%s pipeline aspect ratio %s", p.Kind, p.AspectRatio)
	}
	if p.Kind != KindVideo {
		return nil
	}
	if len(caps.Qualities) > 0 && !slices.Contains(caps.Qualities, p.Quality) {
		return errors.Wrapf(ErrUnsupportedPipeline, "video quality %s", p.Quality)
	}
	if len(caps.FrameRates) > 0 && p.FrameRate.Max > 0 && !slices.Contains(caps.FrameRates, p.FrameRate.Max) {
		return errors.Wrapf(ErrUnsupportedPipeline, "frame rate %d", p.FrameRate.Max)
	}
	return nil
}

// UnbindAll implements Device.
func (s *Simulated) UnbindAll(ctx context.Context) error {
	s.mu.Lock()
	ctrl := s.bound
	s.bound = nil
	s.unbinds++
	s.mu.Unlock()

	if ctrl != nil {
		ctrl.invalidate()
		if ctrl.torchOn.Load() && s.cfg.Torch != nil {
			return s.cfg.Torch.Set(false)
		}
	}
	return nil
}

// Close unbinds and marks the device unavailable.
func (s *Simulated) Close() error {
	err := s.UnbindAll(context.Background())
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.workers.Wait()
	return err
}

type simControl struct {
	device    *Simulated
	facing    Facing
	pipelines []Pipeline
	caps      Capabilities

	zoom    atomic.Float64
	torchOn atomic.Bool
	live    atomic.Bool
	frames  atomic.Int64

	unboundOnce sync.Once
	unbound     chan struct{}
}

func (c *simControl) invalidate() {
	c.live.Store(false)
	c.unboundOnce.Do(func() { close(c.unbound) })
}

func (c *simControl) Facing() Facing { return c.facing }

func (c *simControl) Pipelines() []Pipeline { return slices.Clone(c.pipelines) }

func (c *simControl) ZoomRange() (float64, float64) { return c.caps.ZoomMin, c.caps.ZoomMax }

func (c *simControl) ZoomRatio() float64 { return c.zoom.Load() }

func (c *simControl) SetZoomRatio(ratio float64) error {
	if !c.live.Load() {
		return ErrNotBound
	}
	if ratio < c.caps.ZoomMin || ratio > c.caps.ZoomMax {
		return errors.Errorf("zoom ratio %.2f outside [%.2f, %.2f]", ratio, c.caps.ZoomMin, c.caps.ZoomMax)
	}
	c.zoom.Store(ratio)
	return nil
}

func (c *simControl) HasFlashUnit() bool { return c.caps.HasFlashUnit }

func (c *simControl) EnableTorch(on bool) error {
	if !c.live.Load() {
		return ErrNotBound
	}
	if !c.caps.HasFlashUnit {
		return ErrNoFlashUnit
	}
	if t := c.device.cfg.Torch; t != nil {
		if err := t.Set(on); err != nil {
			return err
		}
	}
	c.torchOn.Store(on)
	return nil
}

// TorchOn reports the simulated torch state.
func (c *simControl) TorchOn() bool { return c.torchOn.Load() }

func (c *simControl) ReadFrame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.live.Load() {
		return nil, ErrNotBound
	}
	n := c.frames.Inc()
	kind := KindPreview
	if p, ok := Find(c.pipelines, KindVideo); ok {
		kind = p.Kind
	} else if p, ok := Find(c.pipelines, KindPhoto); ok {
		kind = p.Kind
	}
	return []byte(fmt.Sprintf("%s/%s frame %d\n", c.facing, kind, n)), nil
}
