package recording

import (
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/CamGo/internal/media"
)

// Session is one recording from Start to finalize.
type Session struct {
	ID           uuid.UUID
	Target       media.OutputTarget
	AudioEnabled bool
	StartedAt    time.Time

	handle media.Recording
	done   chan struct{}
}

// Done is closed once the session is finalized, saved or not.
func (s *Session) Done() <-chan struct{} { return s.done }

// State is one of Idle, Starting, Recording or Finalizing.
type State interface {
	Name() string
	// Session is nil for Idle.
	Session() *Session
}

type (
	Idle       struct{}
	Starting   struct{ S *Session }
	Recording  struct{ S *Session }
	Finalizing struct{ S *Session }
)

func (Idle) Name() string       { return "idle" }
func (Starting) Name() string   { return "starting" }
func (Recording) Name() string  { return "recording" }
func (Finalizing) Name() string { return "finalizing" }

func (Idle) Session() *Session         { return nil }
func (s Starting) Session() *Session   { return s.S }
func (s Recording) Session() *Session  { return s.S }
func (s Finalizing) Session() *Session { return s.S }
