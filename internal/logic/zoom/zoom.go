// Package zoom maps pinch scale deltas onto the live zoom ratio. It reads
// the control directly instead of going through the session executor, so
// a gesture racing a rebind may land on the old control and be dropped.
package zoom

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/cjeanneret/CamGo/internal/hw/camera"
)

// ControlSource hands out the live control, or nil when nothing is bound.
type ControlSource interface {
	Control() camera.Control
}

// Next returns current*delta clamped to [min, max]. Deltas that are not
// finite and positive leave current unchanged.
func Next(current, delta, min, max float64) float64 {
	if !validDelta(delta) {
		return current
	}
	return math.Min(math.Max(current*delta, min), max)
}

func validDelta(delta float64) bool {
	return delta > 0 && !math.IsInf(delta, 0) && !math.IsNaN(delta)
}

// Controller applies deltas to whatever control is currently bound.
type Controller struct {
	src    ControlSource
	logger *zap.SugaredLogger
}

// NewController returns a controller reading from src.
func NewController(src ControlSource, logger *zap.SugaredLogger) *Controller {
	return &Controller{src: src, logger: logger}
}

// ApplyZoomDelta sets the ratio to current*delta clamped to the control's
// range and returns it. With nothing bound, or an invalid delta, it returns
// current and touches nothing.
func (z *Controller) ApplyZoomDelta(current, delta float64) float64 {
	ctrl := z.src.Control()
	if ctrl == nil || !validDelta(delta) {
		return current
	}
	return z.apply(ctrl, current, delta)
}

// ApplyGesture scales the control's current ratio by delta. ok is false
// when nothing is bound.
func (z *Controller) ApplyGesture(delta float64) (ratio float64, ok bool) {
	ctrl := z.src.Control()
	if ctrl == nil {
		return 0, false
	}
	current := ctrl.ZoomRatio()
	if !validDelta(delta) {
		return current, true
	}
	return z.apply(ctrl, current, delta), true
}

func (z *Controller) apply(ctrl camera.Control, current, delta float64) float64 {
	min, max := ctrl.ZoomRange()
	next := Next(current, delta, min, max)
	if err := ctrl.SetZoomRatio(next); err != nil {
		z.logger.Debugw("zoom dropped", "ratio", next, "error", err)
		return current
	}
	return next
}

// Run applies every delta from deltas until ctx ends or deltas is closed.
func (z *Controller) Run(ctx context.Context, deltas <-chan float64) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deltas:
			if !ok {
				return
			}
			z.ApplyGesture(d)
		}
	}
}
