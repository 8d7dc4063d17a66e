package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/CamGo/internal/hw/camera"
)

// BoundSession is one live binding of pipelines to the device.
type BoundSession struct {
	ID        uuid.UUID
	Device    camera.Device
	Facing    camera.Facing
	Mode      camera.Mode
	Pipelines []camera.Pipeline
	Scope     camera.Scope
	Control   camera.Control
	BoundAt   time.Time
}

// SessionState is what the binder last asked for and what it got. Bound is
// nil between a teardown and a successful bind, and after a failed bind.
type SessionState struct {
	Facing camera.Facing
	Mode   camera.Mode
	Bound  *BoundSession
	// Generation counts bind attempts.
	Generation uint64
}

// BindingError reports a failed bind. The previous binding is already gone
// when it is returned.
type BindingError struct {
	Facing camera.Facing
	Mode   camera.Mode
	Cause  error
}

func (e *BindingError) Error() string {
	return fmt.Sprintf("bind %s camera in %s mode: %v", e.Facing, e.Mode, e.Cause)
}

func (e *BindingError) Unwrap() error { return e.Cause }
