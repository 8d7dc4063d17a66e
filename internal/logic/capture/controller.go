// Package capture is the two-call surface over the camera: Configure
// changes a setting, Act presses a button. Everything that touches the
// binding runs on one serialized executor.
package capture

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	goutils "go.viam.com/utils"

	"github.com/cjeanneret/CamGo/internal/hw/camera"
	"github.com/cjeanneret/CamGo/internal/hw/permission"
	"github.com/cjeanneret/CamGo/internal/logic/pipeline"
	"github.com/cjeanneret/CamGo/internal/logic/recording"
	"github.com/cjeanneret/CamGo/internal/logic/session"
	"github.com/cjeanneret/CamGo/internal/logic/settings"
	"github.com/cjeanneret/CamGo/internal/logic/zoom"
	"github.com/cjeanneret/CamGo/internal/media"
)

var (
	// ErrInvalidTimer rejects countdowns other than 0, 3 or 10 seconds.
	ErrInvalidTimer = errors.New("timer must be 0, 3 or 10 seconds")
	// ErrPhotoPending rejects the shutter while a countdown is running.
	ErrPhotoPending = errors.New("a photo countdown is already running")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("capture controller closed")
)

// TimerOptions are the accepted countdowns in seconds.
var TimerOptions = []int{0, 3, 10}

// Action is a button press.
type Action int

const (
	ActionShutter Action = iota
	ActionSwitchFacing
)

func (a Action) String() string {
	if a == ActionSwitchFacing {
		return "switch_facing"
	}
	return "shutter"
}

// ParseAction accepts "shutter" or "switch_facing".
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "shutter":
		return ActionShutter, nil
	case "switch_facing", "switch-facing":
		return ActionSwitchFacing, nil
	}
	return ActionShutter, errors.Errorf("unknown action %q (want shutter or switch_facing)", s)
}

// Config wires a Controller.
type Config struct {
	Provider *camera.Provider
	Sink     media.Sink
	Oracle   permission.Oracle
	Clock    clock.Clock
	Initial  settings.Settings
	// TimerSeconds is the initial countdown.
	TimerSeconds int
	// ScopeName labels the lifecycle scope bindings attach to.
	ScopeName string
}

// Controller ties the settings, the binder, zoom, recording and the sink
// together.
type Controller struct {
	cfg    Config
	logger *zap.SugaredLogger

	exec   *session.Executor
	store  *settings.Store
	binder *session.Binder
	zoom   *zoom.Controller
	rec    *recording.Machine
	last   media.LastMedia
	events *hub

	runCtx      context.Context
	runCancel   context.CancelFunc
	scope       camera.Scope
	scopeCancel context.CancelFunc

	// executor only
	device    camera.Device
	countdown *clock.Timer

	timer   atomic.Int32
	pending atomic.Bool
	closed  atomic.Bool
	photos  sync.WaitGroup
}

// NewController builds the controller. Nothing touches the device until Start.
func NewController(cfg Config, logger *zap.SugaredLogger) (*Controller, error) {
	if cfg.Provider == nil || cfg.Sink == nil || cfg.Oracle == nil {
		return nil, errors.New("provider, sink and permission oracle are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.ScopeName == "" {
		cfg.ScopeName = "camgo"
	}
	if !validTimer(cfg.TimerSeconds) {
		return nil, errors.Wrapf(ErrInvalidTimer, "got %d", cfg.TimerSeconds)
	}

	c := &Controller{
		cfg:    cfg,
		logger: logger,
		exec:   session.NewExecutor(logger.Named("executor")),
		binder: session.NewBinder(cfg.Clock, logger.Named("binder")),
		events: newHub(),
	}
	c.runCtx, c.runCancel = context.WithCancel(context.Background())
	c.scope, c.scopeCancel = camera.NewScope(c.runCtx, cfg.ScopeName)
	c.store = settings.NewStore(cfg.Initial, c.rebind, logger.Named("settings"))
	c.zoom = zoom.NewController(c.binder, logger.Named("zoom"))
	c.rec = recording.NewMachine(recording.Config{
		Executor: c.exec,
		Sink:     cfg.Sink,
		Oracle:   cfg.Oracle,
		Last:     &c.last,
		Clock:    cfg.Clock,
		Listener: c.onRecordingEvent,
	}, logger.Named("recording"))
	c.timer.Store(int32(cfg.TimerSeconds))
	return c, nil
}

func validTimer(secs int) bool {
	for _, s := range TimerOptions {
		if s == secs {
			return true
		}
	}
	return false
}

// Start acquires the device and binds the initial configuration.
func (c *Controller) Start(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if !c.cfg.Oracle.IsGranted(permission.Camera) {
		return camera.Unavailable(errors.Wrap(permission.ErrDenied, "camera"))
	}
	device, err := c.cfg.Provider.Acquire(ctx)
	if err != nil {
		return err
	}
	return c.exec.Submit(ctx, func() error {
		c.device = device
		return c.rebind(c.store.Snapshot())
	})
}

// rebind runs on the executor after every settings change.
func (c *Controller) rebind(s settings.Settings) error {
	if c.device == nil {
		c.logger.Debug("no device yet, settings apply on start")
		return nil
	}
	if st := c.rec.State(); st.Session() != nil {
		c.logger.Warnw("rebinding while a recording is active; it will end", "recording", st.Name())
	}

	caps, err := c.device.Capabilities(s.Facing)
	if err != nil {
		c.publish(Event{Type: EventBindFailed, Facing: s.Facing.String(), Mode: s.Mode.String(), Error: err.Error()})
		return &session.BindingError{Facing: s.Facing, Mode: s.Mode, Cause: err}
	}
	pipelines, subs := pipeline.BuildResolved(s.Pipeline, s.Mode, caps)
	for _, sub := range subs {
		c.logger.Infow("configuration not supported, falling back",
			"field", sub.Field, "requested", sub.Requested, "used", sub.Used, "facing", s.Facing)
	}

	if _, err := c.binder.Bind(c.runCtx, c.device, s.Facing, pipelines, c.scope); err != nil {
		c.publish(Event{Type: EventBindFailed, Facing: s.Facing.String(), Mode: s.Mode.String(), Error: err.Error()})
		return err
	}
	c.publish(Event{Type: EventBound, Facing: s.Facing.String(), Mode: s.Mode.String()})
	return nil
}

// Configure applies one settings change on the executor and returns its error.
func (c *Controller) Configure(ctx context.Context, change settings.Change) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.logger.Debugw("configure", "change", change)
	return c.exec.Submit(ctx, func() error { return change.Apply(c.store) })
}

// Act presses a button. The shutter takes a photo in Photo mode (after the
// countdown) and toggles recording in Video mode. A photo completes
// asynchronously; subscribe to learn the outcome.
func (c *Controller) Act(ctx context.Context, action Action) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.logger.Debugw("act", "action", action)
	switch action {
	case ActionSwitchFacing:
		return c.Configure(ctx, settings.SwitchFacing())
	case ActionShutter:
		return c.exec.Submit(ctx, func() error {
			if c.store.Snapshot().Mode == camera.Video {
				return c.toggleRecording(ctx)
			}
			return c.schedulePhoto()
		})
	default:
		return errors.Errorf("unknown action %d", action)
	}
}

func (c *Controller) toggleRecording(ctx context.Context) error {
	ctrl := c.binder.Control()
	if _, idle := c.rec.State().(recording.Idle); idle && ctrl == nil {
		return camera.ErrNotBound
	}
	var src media.Source
	if ctrl != nil {
		src = ctrl
	}
	return c.rec.Toggle(ctx, src)
}

func (c *Controller) schedulePhoto() error {
	if c.pending.Load() {
		return ErrPhotoPending
	}
	c.pending.Store(true)
	secs := int(c.timer.Load())
	if secs == 0 {
		c.takePhoto()
		return nil
	}
	c.logger.Infow("photo countdown", "seconds", secs)
	c.publish(Event{Type: EventCountdown})
	c.countdown = c.cfg.Clock.AfterFunc(time.Duration(secs)*time.Second, func() {
		if err := c.exec.Post(c.takePhoto); err != nil {
			c.logger.Debugw("countdown fired after close", "error", err)
		}
	})
	return nil
}

// takePhoto runs on the executor. The sink call itself runs off it.
func (c *Controller) takePhoto() {
	c.pending.Store(false)
	c.countdown = nil

	current := c.binder.Current()
	if current == nil {
		c.photoFailed(media.OutputTarget{}, camera.ErrNotBound)
		return
	}
	photo, ok := camera.Find(current.Pipelines, camera.KindPhoto)
	if !ok {
		c.photoFailed(media.OutputTarget{}, errors.Wrap(camera.ErrUnsupportedPipeline, "no photo pipeline bound"))
		return
	}

	target, err := c.cfg.Sink.CreateOutputTarget(media.TargetName(c.cfg.Clock.Now()), media.MIMEJPEG, media.CategoryCamera)
	if err != nil {
		c.photoFailed(target, err)
		return
	}

	ctrl := current.Control
	flash := photo.Flash == camera.FlashOn && ctrl.HasFlashUnit()
	if photo.Flash == camera.FlashAuto && ctrl.HasFlashUnit() {
		// no light meter to decide with
		c.logger.Debugw("flash auto without light metering, not firing")
	}
	c.photos.Add(1)
	goutils.PanicCapturingGo(func() {
		defer c.photos.Done()
		if flash {
			if err := ctrl.EnableTorch(true); err != nil {
				c.logger.Warnw("flash failed", "error", err)
				flash = false
			}
		}
		uri, err := c.cfg.Sink.CapturePhoto(c.runCtx, target, ctrl)
		if flash {
			if torchErr := ctrl.EnableTorch(false); torchErr != nil {
				c.logger.Warnw("flash off failed", "error", torchErr)
			}
		}
		if postErr := c.exec.Post(func() { c.onPhoto(target, uri, err) }); postErr != nil {
			c.logger.Warnw("photo result after close", "uri", uri, "error", err)
		}
	})
}

func (c *Controller) onPhoto(target media.OutputTarget, uri string, err error) {
	if err != nil {
		c.photoFailed(target, err)
		return
	}
	c.last.Set(media.Reference{URI: uri, CapturedAt: c.cfg.Clock.Now(), Kind: media.KindPhoto})
	c.logger.Infow("photo capture succeeded", "uri", uri)
	c.publish(Event{Type: EventPhotoSaved, URI: uri})
}

func (c *Controller) photoFailed(target media.OutputTarget, err error) {
	c.logger.Errorw("photo capture failed", "target", target.Name, "error", err)
	c.publish(Event{Type: EventCaptureFailed, Error: err.Error()})
}

func (c *Controller) onRecordingEvent(ev recording.Event) {
	out := Event{URI: ev.URI}
	switch ev.Type {
	case recording.EventStarted:
		out.Type = EventRecordingStarted
	case recording.EventSaved:
		out.Type = EventRecordingSaved
	case recording.EventFailed:
		out.Type = EventRecordingFailed
	}
	if ev.Err != nil {
		out.Error = ev.Err.Error()
	}
	c.publish(out)
}

func (c *Controller) publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = c.cfg.Clock.Now()
	}
	c.events.publish(ev)
}

// SetTimer sets the photo countdown to 0, 3 or 10 seconds.
func (c *Controller) SetTimer(secs int) error {
	if !validTimer(secs) {
		return errors.Wrapf(ErrInvalidTimer, "got %d", secs)
	}
	c.timer.Store(int32(secs))
	return nil
}

// Zoom scales the live zoom ratio by delta. ok is false when nothing is bound.
func (c *Controller) Zoom(delta float64) (float64, bool) {
	return c.zoom.ApplyGesture(delta)
}

// RunZoom applies a stream of pinch deltas until ctx ends or deltas closes.
func (c *Controller) RunZoom(ctx context.Context, deltas <-chan float64) {
	c.zoom.Run(ctx, deltas)
}

// LastMedia returns the most recent saved capture.
func (c *Controller) LastMedia() (media.Reference, bool) {
	return c.last.Get()
}

// Subscribe returns a stream of events and a function that ends it.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	return c.events.subscribe()
}

// Status is a point-in-time view for display.
type Status struct {
	Facing       string  `json:"facing"`
	Mode         string  `json:"mode"`
	AspectRatio  string  `json:"aspect_ratio"`
	Flash        string  `json:"flash"`
	Quality      string  `json:"quality"`
	FPS          int     `json:"fps"`
	TimerSec     int     `json:"timer_sec"`
	Bound        bool    `json:"bound"`
	SessionID    string  `json:"session_id,omitempty"`
	BoundFacing  string  `json:"bound_facing,omitempty"`
	Generation   uint64  `json:"generation"`
	ZoomRatio    float64 `json:"zoom_ratio"`
	ZoomMin      float64 `json:"zoom_min"`
	ZoomMax      float64 `json:"zoom_max"`
	HasFlashUnit bool    `json:"has_flash_unit"`
	Recording    string  `json:"recording"`
	Countdown    bool    `json:"countdown"`
}

// Status reads the current state without going through the executor.
func (c *Controller) Status() Status {
	s := c.store.Snapshot()
	st := Status{
		Facing:      s.Facing.String(),
		Mode:        s.Mode.String(),
		AspectRatio: s.Pipeline.AspectRatio.String(),
		Flash:       s.Pipeline.Flash.String(),
		Quality:     s.Pipeline.Quality.String(),
		FPS:         s.Pipeline.FrameRate.Max,
		TimerSec:    int(c.timer.Load()),
		Generation:  c.binder.State().Generation,
		Recording:   c.rec.State().Name(),
		Countdown:   c.pending.Load(),
	}
	if bound := c.binder.Current(); bound != nil {
		st.Bound = true
		st.SessionID = bound.ID.String()
		st.BoundFacing = bound.Facing.String()
		st.ZoomRatio = bound.Control.ZoomRatio()
		st.ZoomMin, st.ZoomMax = bound.Control.ZoomRange()
		st.HasFlashUnit = bound.Control.HasFlashUnit()
	}
	return st
}

// Close stops an active recording and waits for it, unbinds, stops the
// executor and releases the device.
func (c *Controller) Close(ctx context.Context) error {
	if c.closed.Swap(true) {
		return nil
	}

	var (
		err     error
		waitFor *recording.Session
	)
	err = multierr.Append(err, c.exec.Submit(ctx, func() error {
		if c.countdown != nil {
			c.countdown.Stop()
			c.countdown = nil
			c.pending.Store(false)
		}
		st := c.rec.State()
		waitFor = st.Session()
		switch st.(type) {
		case recording.Recording:
			return c.rec.Stop(ctx)
		case recording.Starting:
			// cannot stop before the sink acknowledges; cut the source instead
			return c.binder.Unbind(ctx, c.device)
		}
		return nil
	}))
	if waitFor != nil {
		select {
		case <-waitFor.Done():
		case <-ctx.Done():
			err = multierr.Append(err, errors.Wrap(ctx.Err(), "waiting for recording to finalize"))
		}
	}
	c.photos.Wait()

	err = multierr.Append(err, c.exec.Submit(ctx, func() error {
		if c.device == nil {
			return nil
		}
		return c.binder.Unbind(ctx, c.device)
	}))
	c.exec.Close()
	c.scopeCancel()
	c.runCancel()
	c.events.close()
	err = multierr.Append(err, c.cfg.Provider.Close())
	return err
}
