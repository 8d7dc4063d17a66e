package camera

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrDeviceUnavailable means the camera subsystem could not be reached
	// (permission revoked, hardware absent). Callers retry acquisition.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrDeviceBusy means the device is already bound or is being used elsewhere.
	ErrDeviceBusy = errors.New("capture device busy")
	// ErrScopeClosed means the lifecycle scope was torn down before the bind.
	ErrScopeClosed = errors.New("lifecycle scope torn down")
	// ErrUnsupportedCombination means the device cannot bind this set of pipelines together.
	ErrUnsupportedCombination = errors.New("unsupported combination of pipelines")
	// ErrUnsupportedPipeline means a pipeline asks for something the facing cannot do.
	ErrUnsupportedPipeline = errors.New("unsupported pipeline")
	// ErrNotBound is returned by a control whose binding has been torn down.
	ErrNotBound = errors.New("device control is no longer bound")
	// ErrNoFlashUnit is returned when the torch is requested on a facing without one.
	ErrNoFlashUnit = errors.New("no flash unit")
)

// Capabilities is what one facing of the device supports. Lists are ordered
// from lowest to highest.
type Capabilities struct {
	AspectRatios []AspectRatio
	Qualities    []Quality
	FrameRates   []int
	HasFlashUnit bool
	ZoomMin      float64
	ZoomMax      float64
}

// Scope is the lifecycle owner a binding is attached to. Once Done is closed
// the scope accepts no more binds.
type Scope interface {
	Name() string
	Done() <-chan struct{}
	Err() error
}

type scope struct {
	context.Context
	name string
}

func (s *scope) Name() string { return s.name }

// NewScope returns a scope that lives until cancel is called or parent is done.
func NewScope(parent context.Context, name string) (Scope, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	return &scope{Context: ctx, name: name}, cancel
}

// Device is the shared handle to the camera subsystem.
type Device interface {
	// Capabilities reports what the given facing supports.
	Capabilities(facing Facing) (Capabilities, error)
	// Bind attaches the pipelines for facing to scope and returns the live control.
	Bind(ctx context.Context, scope Scope, facing Facing, pipelines []Pipeline) (Control, error)
	// UnbindAll tears down every binding. Controls handed out before become invalid.
	UnbindAll(ctx context.Context) error
	Close() error
}

// Control is the live handle of a bound session.
type Control interface {
	Facing() Facing
	Pipelines() []Pipeline
	ZoomRange() (min, max float64)
	ZoomRatio() float64
	SetZoomRatio(ratio float64) error
	HasFlashUnit() bool
	EnableTorch(on bool) error
	// ReadFrame returns one encoded frame. The encoding is the backend's business.
	ReadFrame(ctx context.Context) ([]byte, error)
}

// Torch is a flash unit that can be switched on and off.
type Torch interface {
	Set(on bool) error
}
