package capture

import (
	"sync"
	"time"
)

// EventType names what happened.
type EventType string

const (
	EventBound            EventType = "bound"
	EventBindFailed       EventType = "bind_failed"
	EventCountdown        EventType = "countdown_started"
	EventPhotoSaved       EventType = "photo_saved"
	EventCaptureFailed    EventType = "capture_failed"
	EventRecordingStarted EventType = "recording_started"
	EventRecordingSaved   EventType = "recording_saved"
	EventRecordingFailed  EventType = "recording_failed"
)

// Event is published to subscribers.
type Event struct {
	Type   EventType `json:"type"`
	Time   time.Time `json:"time"`
	Facing string    `json:"facing,omitempty"`
	Mode   string    `json:"mode,omitempty"`
	URI    string    `json:"uri,omitempty"`
	Error  string    `json:"error,omitempty"`
}

const subscriberBuffer = 32

// hub fans events out to subscribers. A slow subscriber loses events
// rather than stalling the executor.
type hub struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	next   int
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan Event)}
}

func (h *hub) subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Event, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
}

func (h *hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
