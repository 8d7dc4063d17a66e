package zoom

import (
	"context"
	"math"
	"testing"

	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/cjeanneret/CamGo/internal/hw/camera"
	"github.com/cjeanneret/CamGo/internal/logging"
)

type staticSource struct {
	ctrl camera.Control
}

func (s staticSource) Control() camera.Control { return s.ctrl }

func boundControl(t *testing.T) camera.Control {
	t.Helper()
	dev := camera.NewSimulated(camera.SimulatedConfig{}, logging.NewTestLogger(t))
	t.Cleanup(func() { _ = dev.Close() })
	scope, cancel := camera.NewScope(context.Background(), "test")
	t.Cleanup(cancel)
	ctrl, err := dev.Bind(context.Background(), scope, camera.Back, []camera.Pipeline{
		{Kind: camera.KindPreview},
		{Kind: camera.KindPhoto},
	})
	test.That(t, err, test.ShouldBeNil)
	return ctrl
}

func TestNextClamps(t *testing.T) {
	for _, tc := range []struct {
		current, delta, want float64
	}{
		{1, 2, 2},
		{5, 3, 10},
		{2, 0.1, 1},
		{2, 0, 2},
		{2, -1, 2},
		{2, math.NaN(), 2},
		{2, math.Inf(1), 2},
	} {
		test.That(t, Next(tc.current, tc.delta, 1, 10), test.ShouldEqual, tc.want)
	}
}

func TestNextComposes(t *testing.T) {
	// within range, two deltas equal their product
	a := Next(Next(1.5, 1.2, 1, 10), 1.5, 1, 10)
	b := Next(1.5, 1.2*1.5, 1, 10)
	test.That(t, a, test.ShouldAlmostEqual, b)
}

func TestApplyZoomDeltaWithoutBinding(t *testing.T) {
	z := NewController(staticSource{}, logging.NewTestLogger(t))
	test.That(t, z.ApplyZoomDelta(3, 2), test.ShouldEqual, 3.0)
	_, ok := z.ApplyGesture(2)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestApplyZoomDelta(t *testing.T) {
	ctrl := boundControl(t)
	z := NewController(staticSource{ctrl}, logging.NewTestLogger(t))

	test.That(t, z.ApplyZoomDelta(1, 2.5), test.ShouldEqual, 2.5)
	test.That(t, ctrl.ZoomRatio(), test.ShouldEqual, 2.5)
	test.That(t, z.ApplyZoomDelta(8, 4), test.ShouldEqual, 10.0)
	test.That(t, z.ApplyZoomDelta(10, math.NaN()), test.ShouldEqual, 10.0)
	test.That(t, ctrl.ZoomRatio(), test.ShouldEqual, 10.0)
}

func TestApplyGestureUsesLiveRatio(t *testing.T) {
	ctrl := boundControl(t)
	z := NewController(staticSource{ctrl}, logging.NewTestLogger(t))

	r, ok := z.ApplyGesture(2)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, r, test.ShouldEqual, 2.0)
	r, _ = z.ApplyGesture(0.25)
	test.That(t, r, test.ShouldEqual, 1.0)
}

func TestRun(t *testing.T) {
	ctrl := boundControl(t)
	z := NewController(staticSource{ctrl}, logging.NewTestLogger(t))

	deltas := make(chan float64)
	done := make(chan struct{})
	go func() {
		z.Run(context.Background(), deltas)
		close(done)
	}()
	deltas <- 2
	deltas <- 1.5
	close(deltas)
	<-done

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, ctrl.ZoomRatio(), test.ShouldEqual, 3.0)
	})
}
