// Package recording drives video recording through
// Idle → Starting → Recording → Finalizing → Idle.
package recording

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	goutils "go.viam.com/utils"

	"github.com/cjeanneret/CamGo/internal/hw/permission"
	"github.com/cjeanneret/CamGo/internal/media"
)

var (
	// ErrRecordingBusy rejects a start or toggle while a recording is
	// starting or finalizing. Such requests are dropped, not queued.
	ErrRecordingBusy = errors.New("recording is starting or finalizing")
	// ErrNotRecording rejects Stop outside the Recording state.
	ErrNotRecording = errors.New("not recording")
)

// Poster runs functions on the session executor.
type Poster interface {
	Post(fn func()) error
}

// EventType tags an Event.
type EventType string

const (
	EventStarted EventType = "recording_started"
	EventSaved   EventType = "recording_saved"
	EventFailed  EventType = "recording_failed"
)

// Event reports a transition to listeners. Listeners run on the executor
// and must not block.
type Event struct {
	Type    EventType
	Session *Session
	URI     string
	Err     error
}

// Config wires a Machine.
type Config struct {
	Executor Poster
	Sink     media.Sink
	Oracle   permission.Oracle
	Last     *media.LastMedia
	Clock    clock.Clock
	Listener func(Event)
}

// Machine owns the recording state. Start, Stop and Toggle run on the
// executor; State can be read from anywhere.
type Machine struct {
	cfg    Config
	logger *zap.SugaredLogger

	mu    sync.RWMutex
	state State
}

// NewMachine returns an idle machine.
func NewMachine(cfg Config, logger *zap.SugaredLogger) *Machine {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Listener == nil {
		cfg.Listener = func(Event) {}
	}
	return &Machine{cfg: cfg, logger: logger, state: Idle{}}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()
	m.logger.Debugw("recording state", "from", prev.Name(), "to", s.Name())
}

// Toggle stops an active recording or starts one from Idle.
func (m *Machine) Toggle(ctx context.Context, src media.Source) error {
	switch m.State().(type) {
	case Recording:
		return m.Stop(ctx)
	case Idle:
		return m.Start(ctx, src)
	default:
		return ErrRecordingBusy
	}
}

// Start opens a recording on the sink. Audio is enabled only when the
// microphone is granted at this moment. Starting again while Recording stops
// the recording.
func (m *Machine) Start(ctx context.Context, src media.Source) error {
	switch m.State().(type) {
	case Idle:
	case Recording:
		return m.Stop(ctx)
	default:
		return ErrRecordingBusy
	}

	now := m.cfg.Clock.Now()
	target, err := m.cfg.Sink.CreateOutputTarget(media.TargetName(now), media.MIMEMP4, media.CategoryCamera)
	if err != nil {
		return errors.Wrap(err, "create recording target")
	}

	// a denied microphone never fails the recording
	audio := m.cfg.Oracle.IsGranted(permission.Microphone)
	if !audio {
		m.logger.Infow("recording without audio", "reason", permission.ErrDenied, "capability", permission.Microphone)
	}

	handle, err := m.cfg.Sink.StartRecording(ctx, target, src, audio)
	if err != nil {
		m.logger.Errorw("could not start recording", "target", target.Name, "error", err)
		return err
	}

	sess := &Session{
		ID:           uuid.New(),
		Target:       target,
		AudioEnabled: audio,
		StartedAt:    now,
		handle:       handle,
		done:         make(chan struct{}),
	}
	m.setState(Starting{S: sess})
	goutils.PanicCapturingGo(func() { m.pump(sess) })
	return nil
}

// Stop asks the sink to close the output. Only valid while Recording.
func (m *Machine) Stop(ctx context.Context) error {
	rec, ok := m.State().(Recording)
	if !ok {
		return ErrNotRecording
	}
	m.setState(Finalizing(rec))
	rec.S.handle.Stop()
	return nil
}

// pump forwards sink events onto the executor in arrival order.
func (m *Machine) pump(sess *Session) {
	finalized := false
	for ev := range sess.handle.Events() {
		ev := ev
		if ev.Kind == media.EventFinalized {
			finalized = true
		}
		if err := m.cfg.Executor.Post(func() { m.onEvent(sess, ev) }); err != nil {
			m.logger.Warnw("dropping recording event", "event", ev.Kind, "error", err)
		}
	}
	if !finalized {
		lost := media.RecordEvent{Kind: media.EventFinalized, Err: errors.New("recording ended without finalizing")}
		goutils.UncheckedError(m.cfg.Executor.Post(func() { m.onEvent(sess, lost) }))
	}
}

func (m *Machine) onEvent(sess *Session, ev media.RecordEvent) {
	current := m.State()
	if current.Session() != sess {
		m.logger.Debugw("ignoring event from stale recording", "session", sess.ID, "event", ev.Kind)
		return
	}
	switch ev.Kind {
	case media.EventStarted:
		if _, ok := current.(Starting); ok {
			m.setState(Recording{S: sess})
			m.logger.Infow("recording started", "session", sess.ID, "target", sess.Target.Name, "audio", sess.AudioEnabled)
			m.cfg.Listener(Event{Type: EventStarted, Session: sess})
		}
	case media.EventFinalized:
		m.onFinalize(sess, ev)
	}
}

func (m *Machine) onFinalize(sess *Session, ev media.RecordEvent) {
	defer close(sess.done)
	m.setState(Idle{})
	if ev.Err != nil {
		m.logger.Errorw("video capture failed", "session", sess.ID, "target", sess.Target.Name, "error", ev.Err)
		m.cfg.Listener(Event{Type: EventFailed, Session: sess, Err: ev.Err})
		return
	}
	m.cfg.Last.Set(media.Reference{URI: ev.URI, CapturedAt: m.cfg.Clock.Now(), Kind: media.KindVideo})
	m.logger.Infow("video capture succeeded", "session", sess.ID, "uri", ev.URI)
	m.cfg.Listener(Event{Type: EventSaved, Session: sess, URI: ev.URI})
}
