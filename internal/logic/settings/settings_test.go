package settings

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/cjeanneret/CamGo/internal/hw/camera"
	"github.com/cjeanneret/CamGo/internal/logging"
)

type rebindRecorder struct {
	calls []Settings
	err   error
}

func (r *rebindRecorder) rebind(s Settings) error {
	r.calls = append(r.calls, s)
	return r.err
}

func newStore(t *testing.T) (*Store, *rebindRecorder) {
	rec := &rebindRecorder{}
	return NewStore(Defaults(), rec.rebind, logging.NewTestLogger(t)), rec
}

func TestSettersRebindWithSnapshot(t *testing.T) {
	st, rec := newStore(t)

	test.That(t, st.SetAspectRatio(camera.Ratio16x9), test.ShouldBeNil)
	test.That(t, st.SetFlashMode(camera.FlashOn), test.ShouldBeNil)
	test.That(t, st.SetQuality(camera.QualityHD), test.ShouldBeNil)
	test.That(t, st.SetFrameRate(60), test.ShouldBeNil)
	test.That(t, st.SetMode(camera.Video), test.ShouldBeNil)
	test.That(t, st.SetFacing(camera.Front), test.ShouldBeNil)

	test.That(t, len(rec.calls), test.ShouldEqual, 6)
	last := rec.calls[5]
	test.That(t, last, test.ShouldResemble, st.Snapshot())
	test.That(t, last.Pipeline, test.ShouldResemble, camera.PipelineConfig{
		AspectRatio: camera.Ratio16x9,
		Flash:       camera.FlashOn,
		Quality:     camera.QualityHD,
		FrameRate:   camera.FrameRateRange{Min: 30, Max: 60},
	})
	test.That(t, rec.calls[0].Pipeline.Flash, test.ShouldEqual, camera.FlashAuto)
}

func TestSetterIsIdempotentButRebinds(t *testing.T) {
	st, rec := newStore(t)
	test.That(t, st.SetAspectRatio(camera.Ratio4x3), test.ShouldBeNil)
	test.That(t, st.SetAspectRatio(camera.Ratio4x3), test.ShouldBeNil)
	test.That(t, len(rec.calls), test.ShouldEqual, 2)
	test.That(t, rec.calls[0], test.ShouldResemble, rec.calls[1])
}

func TestInvalidValuesAreRejected(t *testing.T) {
	st, rec := newStore(t)
	before := st.Snapshot()

	for _, err := range []error{
		st.SetFrameRate(24),
		st.SetAspectRatio(camera.AspectRatio(7)),
		st.SetFlashMode(camera.FlashMode(-1)),
		st.SetQuality(camera.Quality(9)),
		st.SetMode(camera.Mode(3)),
		st.SetFacing(camera.Facing(5)),
	} {
		test.That(t, errors.Is(err, ErrInvalidSetting), test.ShouldBeTrue)
	}
	test.That(t, st.Snapshot(), test.ShouldResemble, before)
	test.That(t, len(rec.calls), test.ShouldEqual, 0)
}

func TestSwitchFacingParity(t *testing.T) {
	for n := 0; n < 6; n++ {
		st, rec := newStore(t)
		for i := 0; i < n; i++ {
			test.That(t, st.SwitchFacing(), test.ShouldBeNil)
		}
		want := camera.Back
		if n%2 == 1 {
			want = camera.Front
		}
		test.That(t, st.Snapshot().Facing, test.ShouldEqual, want)
		test.That(t, len(rec.calls), test.ShouldEqual, n)
	}
}

func TestRebindErrorIsReturned(t *testing.T) {
	st, rec := newStore(t)
	rec.err = errors.New("bind failed")
	err := st.SetMode(camera.Video)
	test.That(t, err, test.ShouldBeError, rec.err)
	// the value is kept even though the device could not follow
	test.That(t, st.Snapshot().Mode, test.ShouldEqual, camera.Video)
}

func TestChanges(t *testing.T) {
	st, rec := newStore(t)
	for _, c := range []Change{
		AspectRatio(camera.Ratio16x9),
		Flash(camera.FlashOff),
		Quality(camera.QualityFHD),
		FrameRate(60),
		Mode(camera.Video),
		Facing(camera.Front),
		SwitchFacing(),
	} {
		test.That(t, c.Apply(st), test.ShouldBeNil)
	}
	test.That(t, len(rec.calls), test.ShouldEqual, 7)
	test.That(t, st.Snapshot().Facing, test.ShouldEqual, camera.Back)
	test.That(t, FrameRate(60).String(), test.ShouldEqual, "fps=60")
	test.That(t, errors.Is(Change{}.Apply(st), ErrInvalidSetting), test.ShouldBeTrue)
}

func TestNilRebind(t *testing.T) {
	st := NewStore(Defaults(), nil, logging.NewTestLogger(t))
	test.That(t, st.SetQuality(camera.QualitySD), test.ShouldBeNil)
	test.That(t, st.Snapshot().Pipeline.Quality, test.ShouldEqual, camera.QualitySD)
}
