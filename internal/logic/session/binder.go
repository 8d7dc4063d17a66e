package session

import (
	"context"
	"slices"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cjeanneret/CamGo/internal/hw/camera"
)

// Binder tears down and establishes bindings. Bind and Unbind run on the
// executor; Control and State can be read from anywhere.
type Binder struct {
	clk    clock.Clock
	logger *zap.SugaredLogger

	mu    sync.RWMutex
	state SessionState
}

// NewBinder returns a binder with nothing bound.
func NewBinder(clk clock.Clock, logger *zap.SugaredLogger) *Binder {
	return &Binder{clk: clk, logger: logger}
}

// Bind unbinds everything from device, then binds pipelines for facing to
// scope. On failure nothing is bound and nothing is retried.
func (b *Binder) Bind(
	ctx context.Context,
	device camera.Device,
	facing camera.Facing,
	pipelines []camera.Pipeline,
	scope camera.Scope,
) (*BoundSession, error) {
	mode := camera.ModeOf(pipelines)

	if err := device.UnbindAll(ctx); err != nil {
		b.logger.Warnw("unbind before rebind reported an error", "error", err)
	}
	b.mu.Lock()
	b.state.Bound = nil
	b.state.Facing = facing
	b.state.Mode = mode
	b.state.Generation++
	gen := b.state.Generation
	b.mu.Unlock()

	ctrl, err := b.bind(ctx, device, facing, pipelines, scope)
	if err != nil {
		berr := &BindingError{Facing: facing, Mode: mode, Cause: err}
		b.logger.Errorw("use case binding failed", "facing", facing, "mode", mode, "generation", gen, "error", err)
		return nil, berr
	}

	session := &BoundSession{
		ID:        uuid.New(),
		Device:    device,
		Facing:    facing,
		Mode:      mode,
		Pipelines: slices.Clone(pipelines),
		Scope:     scope,
		Control:   ctrl,
		BoundAt:   b.clk.Now(),
	}
	if video, ok := camera.Find(pipelines, camera.KindVideo); ok && video.Flash == camera.FlashOn && ctrl.HasFlashUnit() {
		if err := ctrl.EnableTorch(true); err != nil {
			b.logger.Warnw("could not enable torch", "error", err)
		}
	}

	b.mu.Lock()
	b.state.Bound = session
	b.mu.Unlock()
	b.logger.Infow("camera bound", "session", session.ID, "facing", facing, "mode", mode, "generation", gen)
	return session, nil
}

func (b *Binder) bind(
	ctx context.Context,
	device camera.Device,
	facing camera.Facing,
	pipelines []camera.Pipeline,
	scope camera.Scope,
) (camera.Control, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if scope.Err() != nil {
		return nil, camera.ErrScopeClosed
	}
	return device.Bind(ctx, scope, facing, pipelines)
}

// Unbind releases whatever is bound.
func (b *Binder) Unbind(ctx context.Context, device camera.Device) error {
	b.mu.Lock()
	b.state.Bound = nil
	b.mu.Unlock()
	return device.UnbindAll(ctx)
}

// Control returns the live control, or nil when nothing is bound.
func (b *Binder) Control() camera.Control {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state.Bound == nil {
		return nil
	}
	return b.state.Bound.Control
}

// Current returns the bound session, or nil.
func (b *Binder) Current() *BoundSession {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.Bound
}

// State returns a copy of the session state.
func (b *Binder) State() SessionState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}
