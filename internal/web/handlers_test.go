package web

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/cjeanneret/CamGo/internal/hw/camera"
	"github.com/cjeanneret/CamGo/internal/logging"
	"github.com/cjeanneret/CamGo/internal/logic/capture"
	"github.com/cjeanneret/CamGo/internal/logic/session"
	"github.com/cjeanneret/CamGo/internal/logic/settings"
	"github.com/cjeanneret/CamGo/internal/media"
)

// fakeCamera records what the handlers ask of it.
type fakeCamera struct {
	mu        sync.Mutex
	status    capture.Status
	changes   []string
	actions   []capture.Action
	timer     int
	zoom      float64
	bound     bool
	last      *media.Reference
	configErr error
	actErr    error
}

func newFakeCamera() *fakeCamera {
	return &fakeCamera{
		status: capture.Status{Facing: "back", Mode: "photo", AspectRatio: "4:3", Bound: true},
		zoom:   1,
		bound:  true,
	}
}

func (f *fakeCamera) Status() capture.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.status
	st.TimerSec = f.timer
	st.ZoomRatio = f.zoom
	return st
}

func (f *fakeCamera) Configure(_ context.Context, change settings.Change) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.configErr != nil {
		return f.configErr
	}
	f.changes = append(f.changes, change.String())
	return nil
}

func (f *fakeCamera) Act(_ context.Context, action capture.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.actErr != nil {
		return f.actErr
	}
	f.actions = append(f.actions, action)
	return nil
}

func (f *fakeCamera) SetTimer(secs int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timer = secs
	return nil
}

func (f *fakeCamera) Zoom(delta float64) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.bound {
		return 0, false
	}
	f.zoom *= delta
	return f.zoom, true
}

func (f *fakeCamera) LastMedia() (media.Reference, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return media.Reference{}, false
	}
	return *f.last, true
}

func newTestHandlers(t *testing.T, cam Camera) *Handlers {
	staticFS := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html>test</html>")},
	}
	return NewHandlers(cam, NewStatusBroadcaster(), staticFS, logging.NewTestLogger(t))
}

func post(h http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	test.That(t, json.NewDecoder(w.Body).Decode(&body), test.ShouldBeNil)
	return body["error"]
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

// ---------- ParseConfigureRequest ----------

func TestParseConfigureRequest_Order(t *testing.T) {
	changes, err := ParseConfigureRequest(ConfigureRequest{
		FPS:         intPtr(60),
		Quality:     strPtr("fhd"),
		Flash:       strPtr("on"),
		AspectRatio: strPtr("16:9"),
		Facing:      strPtr("front"),
		Mode:        strPtr("video"),
	})
	test.That(t, err, test.ShouldBeNil)

	var got []string
	for _, c := range changes {
		got = append(got, c.String())
	}
	test.That(t, got, test.ShouldResemble, []string{
		settings.Mode(camera.Video).String(),
		settings.Facing(camera.Front).String(),
		settings.AspectRatio(camera.Ratio16x9).String(),
		settings.Flash(camera.FlashOn).String(),
		settings.Quality(camera.QualityFHD).String(),
		settings.FrameRate(60).String(),
	})
}

func TestParseConfigureRequest_Empty(t *testing.T) {
	changes, err := ParseConfigureRequest(ConfigureRequest{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, changes, test.ShouldBeEmpty)
}

func TestParseConfigureRequest_Invalid(t *testing.T) {
	cases := []struct {
		name string
		req  ConfigureRequest
	}{
		{"mode", ConfigureRequest{Mode: strPtr("panorama")}},
		{"facing", ConfigureRequest{Facing: strPtr("side")}},
		{"facing_and_switch", ConfigureRequest{Facing: strPtr("back"), SwitchFacing: true}},
		{"aspect", ConfigureRequest{AspectRatio: strPtr("1:1")}},
		{"flash", ConfigureRequest{Flash: strPtr("strobe")}},
		{"quality", ConfigureRequest{Quality: strPtr("8k")}},
		{"fps", ConfigureRequest{FPS: intPtr(24)}},
		{"timer", ConfigureRequest{TimerSec: intPtr(5)}},
		// a valid field does not survive an invalid one
		{"mixed", ConfigureRequest{Mode: strPtr("video"), Quality: strPtr("8k")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			changes, err := ParseConfigureRequest(tc.req)
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, changes, test.ShouldBeNil)
		})
	}
}

// ---------- ValidateZoom ----------

func TestValidateZoom(t *testing.T) {
	for _, d := range []float64{0.5, 1, 2.5} {
		test.That(t, ValidateZoom(ZoomRequest{Delta: d}), test.ShouldBeNil)
	}
	for _, d := range []float64{0, -1, math.NaN(), math.Inf(1), math.Inf(-1)} {
		test.That(t, ValidateZoom(ZoomRequest{Delta: d}), test.ShouldNotBeNil)
	}
}

// ---------- HandleStatus ----------

func TestHandleStatus(t *testing.T) {
	h := newTestHandlers(t, newFakeCamera())
	w := httptest.NewRecorder()
	h.HandleStatus(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	test.That(t, w.Code, test.ShouldEqual, http.StatusOK)
	test.That(t, w.Header().Get("Content-Type"), test.ShouldEqual, "application/json")
	var st capture.Status
	test.That(t, json.NewDecoder(w.Body).Decode(&st), test.ShouldBeNil)
	test.That(t, st.Facing, test.ShouldEqual, "back")
	test.That(t, st.Bound, test.ShouldBeTrue)
}

func TestHandlers_NilCamera(t *testing.T) {
	h := newTestHandlers(t, nil)
	w := httptest.NewRecorder()
	h.HandleStatus(w, httptest.NewRequest(http.MethodGet, "/status", nil))
	test.That(t, w.Code, test.ShouldEqual, http.StatusServiceUnavailable)

	w = post(h.HandleAct, "/act", `{"action":"shutter"}`)
	test.That(t, w.Code, test.ShouldEqual, http.StatusServiceUnavailable)
}

// ---------- HandleConfigure ----------

func TestHandleConfigure_AppliesInOrder(t *testing.T) {
	cam := newFakeCamera()
	h := newTestHandlers(t, cam)

	w := post(h.HandleConfigure, "/configure", `{"quality":"hd","mode":"video","timer_sec":3}`)
	test.That(t, w.Code, test.ShouldEqual, http.StatusOK)

	var st capture.Status
	test.That(t, json.NewDecoder(w.Body).Decode(&st), test.ShouldBeNil)
	test.That(t, st.TimerSec, test.ShouldEqual, 3)
	test.That(t, cam.changes, test.ShouldResemble, []string{
		settings.Mode(camera.Video).String(),
		settings.Quality(camera.QualityHD).String(),
	})
}

func TestHandleConfigure_InvalidJSON(t *testing.T) {
	h := newTestHandlers(t, newFakeCamera())
	w := post(h.HandleConfigure, "/configure", "not json")
	test.That(t, w.Code, test.ShouldEqual, http.StatusBadRequest)
}

func TestHandleConfigure_InvalidValueAppliesNothing(t *testing.T) {
	cam := newFakeCamera()
	h := newTestHandlers(t, cam)

	w := post(h.HandleConfigure, "/configure", `{"mode":"video","fps":45}`)
	test.That(t, w.Code, test.ShouldEqual, http.StatusBadRequest)
	test.That(t, decodeError(t, w), test.ShouldContainSubstring, "fps")
	test.That(t, cam.changes, test.ShouldBeEmpty)
}

func TestHandleConfigure_OversizedBody(t *testing.T) {
	h := newTestHandlers(t, newFakeCamera())
	big := `{"mode":"` + strings.Repeat("x", 2<<20) + `"}`
	w := post(h.HandleConfigure, "/configure", big)
	test.That(t, w.Code, test.ShouldEqual, http.StatusBadRequest)
}

func TestHandleConfigure_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid", errors.Wrap(settings.ErrInvalidSetting, "fps"), http.StatusBadRequest},
		{"unavailable", camera.Unavailable(errors.New("unplugged")), http.StatusServiceUnavailable},
		{"closed", capture.ErrClosed, http.StatusServiceUnavailable},
		{"binding", &session.BindingError{Facing: camera.Front, Mode: camera.Video, Cause: camera.ErrDeviceBusy}, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cam := newFakeCamera()
			cam.configErr = tc.err
			h := newTestHandlers(t, cam)

			w := post(h.HandleConfigure, "/configure", `{"facing":"front"}`)
			test.That(t, w.Code, test.ShouldEqual, tc.want)
			test.That(t, decodeError(t, w), test.ShouldContainSubstring, tc.err.Error())
		})
	}
}

// ---------- HandleAct ----------

func TestHandleAct(t *testing.T) {
	cam := newFakeCamera()
	h := newTestHandlers(t, cam)

	w := post(h.HandleAct, "/act", `{"action":"shutter"}`)
	test.That(t, w.Code, test.ShouldEqual, http.StatusAccepted)
	w = post(h.HandleAct, "/act", `{"action":"switch_facing"}`)
	test.That(t, w.Code, test.ShouldEqual, http.StatusAccepted)

	var resp map[string]string
	test.That(t, json.NewDecoder(w.Body).Decode(&resp), test.ShouldBeNil)
	test.That(t, resp["action"], test.ShouldEqual, "switch_facing")
	test.That(t, cam.actions, test.ShouldResemble, []capture.Action{capture.ActionShutter, capture.ActionSwitchFacing})
}

func TestHandleAct_UnknownAction(t *testing.T) {
	h := newTestHandlers(t, newFakeCamera())
	w := post(h.HandleAct, "/act", `{"action":"burst"}`)
	test.That(t, w.Code, test.ShouldEqual, http.StatusBadRequest)
}

func TestHandleAct_Conflict(t *testing.T) {
	for _, err := range []error{capture.ErrPhotoPending, camera.ErrNotBound} {
		cam := newFakeCamera()
		cam.actErr = err
		h := newTestHandlers(t, cam)
		w := post(h.HandleAct, "/act", `{"action":"shutter"}`)
		test.That(t, w.Code, test.ShouldEqual, http.StatusConflict)
	}
}

// ---------- HandleZoom ----------

func TestHandleZoom(t *testing.T) {
	h := newTestHandlers(t, newFakeCamera())
	w := post(h.HandleZoom, "/zoom", `{"delta":2}`)
	test.That(t, w.Code, test.ShouldEqual, http.StatusOK)

	var resp ZoomResponse
	test.That(t, json.NewDecoder(w.Body).Decode(&resp), test.ShouldBeNil)
	test.That(t, resp.ZoomRatio, test.ShouldEqual, 2.0)
}

func TestHandleZoom_Invalid(t *testing.T) {
	h := newTestHandlers(t, newFakeCamera())
	w := post(h.HandleZoom, "/zoom", `{"delta":-1}`)
	test.That(t, w.Code, test.ShouldEqual, http.StatusBadRequest)
}

func TestHandleZoom_NotBound(t *testing.T) {
	cam := newFakeCamera()
	cam.bound = false
	h := newTestHandlers(t, cam)
	w := post(h.HandleZoom, "/zoom", `{"delta":1.5}`)
	test.That(t, w.Code, test.ShouldEqual, http.StatusConflict)
	test.That(t, decodeError(t, w), test.ShouldEqual, camera.ErrNotBound.Error())
}

// ---------- HandleLastMedia ----------

func TestHandleLastMedia(t *testing.T) {
	cam := newFakeCamera()
	h := newTestHandlers(t, cam)

	w := httptest.NewRecorder()
	h.HandleLastMedia(w, httptest.NewRequest(http.MethodGet, "/media/last", nil))
	test.That(t, w.Code, test.ShouldEqual, http.StatusNotFound)

	at := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	cam.last = &media.Reference{URI: "file:///m/DCIM/Camera/a.mp4", CapturedAt: at, Kind: media.KindVideo}
	w = httptest.NewRecorder()
	h.HandleLastMedia(w, httptest.NewRequest(http.MethodGet, "/media/last", nil))
	test.That(t, w.Code, test.ShouldEqual, http.StatusOK)

	var ref media.Reference
	test.That(t, json.NewDecoder(w.Body).Decode(&ref), test.ShouldBeNil)
	test.That(t, ref.URI, test.ShouldEqual, "file:///m/DCIM/Camera/a.mp4")
	test.That(t, ref.Kind, test.ShouldEqual, media.KindVideo)
	test.That(t, ref.CapturedAt.Equal(at), test.ShouldBeTrue)
}

// ---------- ServeIndex ----------

func TestServeIndex(t *testing.T) {
	h := newTestHandlers(t, newFakeCamera())
	w := httptest.NewRecorder()
	h.ServeIndex(w, httptest.NewRequest(http.MethodGet, "/", nil))

	test.That(t, w.Code, test.ShouldEqual, http.StatusOK)
	test.That(t, w.Header().Get("Content-Type"), test.ShouldEqual, "text/html; charset=utf-8")
	test.That(t, w.Body.String(), test.ShouldContainSubstring, "<html>")
}

func TestServeIndex_Missing(t *testing.T) {
	h := NewHandlers(newFakeCamera(), NewStatusBroadcaster(), fstest.MapFS{}, logging.NewTestLogger(t))
	w := httptest.NewRecorder()
	h.ServeIndex(w, httptest.NewRequest(http.MethodGet, "/", nil))
	test.That(t, w.Code, test.ShouldEqual, http.StatusNotFound)
}

// ---------- HandleStatusStream ----------

// syncRecorder guards the recorder body so the test can read while the
// handler writes.
type syncRecorder struct {
	mu sync.Mutex
	*httptest.ResponseRecorder
}

func (r *syncRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Write(p)
}

func (r *syncRecorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ResponseRecorder.Flush()
}

func (r *syncRecorder) body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Body.String()
}

func TestHandleStatusStream(t *testing.T) {
	h := newTestHandlers(t, newFakeCamera())
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/status/stream", nil).WithContext(ctx)
	w := &syncRecorder{ResponseRecorder: httptest.NewRecorder()}

	done := make(chan struct{})
	go func() {
		h.HandleStatusStream(w, req)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for !strings.Contains(w.body(), ": connected") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	h.Broadcaster.BroadcastEvent(capture.Event{Type: capture.EventRecordingSaved, URI: "file:///x.mp4"})
	for !strings.Contains(w.body(), "recording_saved") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	body := w.body()
	test.That(t, w.Header().Get("Content-Type"), test.ShouldEqual, "text/event-stream")
	test.That(t, body, test.ShouldContainSubstring, ": connected\n\n")
	test.That(t, body, test.ShouldContainSubstring, "data: {")
	test.That(t, body, test.ShouldContainSubstring, `"uri":"file:///x.mp4"`)
}

// ---------- routing ----------

func TestServerMux_Routes(t *testing.T) {
	cam := newFakeCamera()
	srv, err := NewServer("127.0.0.1:0", cam, NewStatusBroadcaster(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/act")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusMethodNotAllowed)
	resp.Body.Close()

	resp, err = http.Post(ts.URL+"/zoom", "application/json", bytes.NewReader([]byte(`{"delta":1.5}`)))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/media/last")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusNotFound)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/static/index.html")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/nope")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusNotFound)
	resp.Body.Close()
}

func TestServerRun_ShutsDownOnCancel(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", newFakeCamera(), NewStatusBroadcaster(), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		test.That(t, err, test.ShouldBeNil)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}
