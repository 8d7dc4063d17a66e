package web

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/CamGo/internal/logic/capture"
)

// StatusEvent is one line of the SSE status stream. Log lines carry a level
// and a message; controller events carry level "event" and the event itself.
type StatusEvent struct {
	Time  string         `json:"t"`
	Level string         `json:"l,omitempty"`
	Msg   string         `json:"msg"`
	Event *capture.Event `json:"event,omitempty"`
}

const clientBuffer = 64

// StatusBroadcaster distributes status messages to multiple SSE clients.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel that receives broadcast messages and a cleanup function.
// The caller must call the returned cleanup when done (e.g. on client disconnect).
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, clientBuffer)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Broadcast sends a log-style message to all subscribed clients.
// Slow clients may miss messages.
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.send(StatusEvent{
		Time:  time.Now().Format(time.RFC3339),
		Level: level,
		Msg:   msg,
	})
}

// BroadcastMsg is a convenience for level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

// BroadcastEvent sends a controller event to all subscribed clients.
func (b *StatusBroadcaster) BroadcastEvent(ev capture.Event) {
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	b.send(StatusEvent{
		Time:  ts.Format(time.RFC3339),
		Level: "event",
		Msg:   string(ev.Type),
		Event: &ev,
	})
}

// Forward relays events until ctx ends or the channel closes.
func (b *StatusBroadcaster) Forward(ctx context.Context, events <-chan capture.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.BroadcastEvent(ev)
		}
	}
}

func (b *StatusBroadcaster) send(evt StatusEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
			// channel full, skip
		}
	}
}

// BroadcastWriter implements io.Writer; each Write broadcasts the content to
// SSE clients. It is meant as an extra writer for logging.New, which hands it
// one JSON-encoded entry per Write. Anything else is broadcast verbatim.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

type broadcastWriter struct {
	b *StatusBroadcaster
}

// zapEntry picks the fields of a zap JSON entry the stream shows.
type zapEntry struct {
	Level  string `json:"level"`
	Logger string `json:"logger"`
	Msg    string `json:"msg"`
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	line := strings.TrimSpace(string(p))
	if line == "" {
		return len(p), nil
	}
	var entry zapEntry
	if json.Unmarshal([]byte(line), &entry) == nil && entry.Msg != "" {
		level := strings.ToLower(entry.Level)
		if level == "" {
			level = "info"
		}
		msg := entry.Msg
		if entry.Logger != "" {
			msg = entry.Logger + ": " + msg
		}
		w.b.Broadcast(level, msg)
		return len(p), nil
	}
	w.b.BroadcastMsg(line)
	return len(p), nil
}
