package web

import (
	"context"
	"encoding/json"
	"io/fs"
	"math"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/cjeanneret/CamGo/internal/hw/camera"
	"github.com/cjeanneret/CamGo/internal/logic/capture"
	"github.com/cjeanneret/CamGo/internal/logic/recording"
	"github.com/cjeanneret/CamGo/internal/logic/session"
	"github.com/cjeanneret/CamGo/internal/logic/settings"
	"github.com/cjeanneret/CamGo/internal/media"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// Camera is the part of the capture controller the HTTP surface drives.
type Camera interface {
	Status() capture.Status
	Configure(ctx context.Context, change settings.Change) error
	Act(ctx context.Context, action capture.Action) error
	SetTimer(secs int) error
	Zoom(delta float64) (float64, bool)
	LastMedia() (media.Reference, bool)
}

// ConfigureRequest is the body of POST /configure. Omitted fields are left
// unchanged; present ones are applied in field order, each one rebinding.
type ConfigureRequest struct {
	Mode         *string `json:"mode,omitempty"`
	Facing       *string `json:"facing,omitempty"`
	SwitchFacing bool    `json:"switch_facing,omitempty"`
	AspectRatio  *string `json:"aspect_ratio,omitempty"`
	Flash        *string `json:"flash,omitempty"`
	Quality      *string `json:"quality,omitempty"`
	FPS          *int    `json:"fps,omitempty"`
	TimerSec     *int    `json:"timer_sec,omitempty"`
}

// ActRequest is the body of POST /act.
type ActRequest struct {
	Action string `json:"action"`
}

// ZoomRequest is the body of POST /zoom. Delta is a pinch scale factor.
type ZoomRequest struct {
	Delta float64 `json:"delta"`
}

// ZoomResponse reports the ratio after the gesture.
type ZoomResponse struct {
	ZoomRatio float64 `json:"zoom_ratio"`
}

// ParseConfigureRequest turns a request into setting changes. Nothing is
// applied when any field is invalid.
func ParseConfigureRequest(req ConfigureRequest) ([]settings.Change, error) {
	var changes []settings.Change
	if req.Mode != nil {
		m, err := camera.ParseMode(*req.Mode)
		if err != nil {
			return nil, err
		}
		changes = append(changes, settings.Mode(m))
	}
	if req.Facing != nil && req.SwitchFacing {
		return nil, errors.New("facing and switch_facing are mutually exclusive")
	}
	if req.Facing != nil {
		f, err := camera.ParseFacing(*req.Facing)
		if err != nil {
			return nil, err
		}
		changes = append(changes, settings.Facing(f))
	}
	if req.SwitchFacing {
		changes = append(changes, settings.SwitchFacing())
	}
	if req.AspectRatio != nil {
		r, err := camera.ParseAspectRatio(*req.AspectRatio)
		if err != nil {
			return nil, err
		}
		changes = append(changes, settings.AspectRatio(r))
	}
	if req.Flash != nil {
		f, err := camera.ParseFlashMode(*req.Flash)
		if err != nil {
			return nil, err
		}
		changes = append(changes, settings.Flash(f))
	}
	if req.Quality != nil {
		q, err := camera.ParseQuality(*req.Quality)
		if err != nil {
			return nil, err
		}
		changes = append(changes, settings.Quality(q))
	}
	if req.FPS != nil {
		if *req.FPS != 30 && *req.FPS != 60 {
			return nil, errors.Errorf("fps must be 30 or 60, got %d", *req.FPS)
		}
		changes = append(changes, settings.FrameRate(*req.FPS))
	}
	if req.TimerSec != nil && !validTimer(*req.TimerSec) {
		return nil, errors.Wrapf(capture.ErrInvalidTimer, "got %d", *req.TimerSec)
	}
	return changes, nil
}

func validTimer(secs int) bool {
	for _, v := range capture.TimerOptions {
		if v == secs {
			return true
		}
	}
	return false
}

// ValidateZoom rejects deltas that cannot scale a ratio.
func ValidateZoom(z ZoomRequest) error {
	if math.IsNaN(z.Delta) || math.IsInf(z.Delta, 0) || z.Delta <= 0 {
		return errors.Errorf("delta must be a positive finite number, got %v", z.Delta)
	}
	return nil
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Camera      Camera
	Broadcaster *StatusBroadcaster
	logger      *zap.SugaredLogger
	staticFS    fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If cam is nil, the control endpoints return 503 Service Unavailable.
func NewHandlers(cam Camera, broadcaster *StatusBroadcaster, staticFS fs.FS, logger *zap.SugaredLogger) *Handlers {
	return &Handlers{
		Camera:      cam,
		Broadcaster: broadcaster,
		logger:      logger,
		staticFS:    staticFS,
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// statusFor maps controller errors to HTTP status codes.
func statusFor(err error) int {
	var bindErr *session.BindingError
	switch {
	case errors.Is(err, settings.ErrInvalidSetting), errors.Is(err, capture.ErrInvalidTimer):
		return http.StatusBadRequest
	case errors.Is(err, camera.ErrDeviceUnavailable), errors.Is(err, capture.ErrClosed),
		errors.Is(err, session.ErrExecutorClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &bindErr):
		return http.StatusBadGateway
	case errors.Is(err, capture.ErrPhotoPending), errors.Is(err, recording.ErrRecordingBusy),
		errors.Is(err, camera.ErrNotBound):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handlers) available(w http.ResponseWriter) bool {
	if h.Camera == nil {
		http.Error(w, "camera not configured", http.StatusServiceUnavailable)
		return false
	}
	return true
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleStatus handles GET /status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	writeJSON(w, http.StatusOK, h.Camera.Status())
}

// HandleConfigure handles POST /configure. It answers with the resulting
// status, or with the first error; changes after it are not applied.
func (h *Handlers) HandleConfigure(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	var req ConfigureRequest
	if !decodeBody(w, r, &req) {
		return
	}
	changes, err := ParseConfigureRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.TimerSec != nil {
		if err := h.Camera.SetTimer(*req.TimerSec); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	}
	for _, change := range changes {
		if err := h.Camera.Configure(r.Context(), change); err != nil {
			h.logger.Warnw("configure failed", "change", change, "error", err)
			writeError(w, statusFor(err), errors.Wrapf(err, "apply %s", change))
			return
		}
	}
	writeJSON(w, http.StatusOK, h.Camera.Status())
}

// HandleAct handles POST /act. A photo completes asynchronously; its outcome
// arrives on the status stream.
func (h *Handlers) HandleAct(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	var req ActRequest
	if !decodeBody(w, r, &req) {
		return
	}
	action, err := capture.ParseAction(req.Action)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.Camera.Act(r.Context(), action); err != nil {
		h.logger.Warnw("action failed", "action", action, "error", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "action": action.String()})
}

// HandleZoom handles POST /zoom.
func (h *Handlers) HandleZoom(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	var req ZoomRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := ValidateZoom(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ratio, ok := h.Camera.Zoom(req.Delta)
	if !ok {
		writeError(w, http.StatusConflict, camera.ErrNotBound)
		return
	}
	writeJSON(w, http.StatusOK, ZoomResponse{ZoomRatio: ratio})
}

// HandleLastMedia handles GET /media/last.
func (h *Handlers) HandleLastMedia(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	ref, ok := h.Camera.LastMedia()
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no media captured yet"))
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
