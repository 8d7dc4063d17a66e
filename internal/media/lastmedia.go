package media

import (
	"sync"
	"time"
)

// Kind is the type of a saved capture.
type Kind string

const (
	KindPhoto Kind = "photo"
	KindVideo Kind = "video"
)

// Reference points at the most recent saved capture.
type Reference struct {
	URI        string    `json:"uri"`
	CapturedAt time.Time `json:"captured_at"`
	Kind       Kind      `json:"kind"`
}

// LastMedia holds the latest Reference. Writers are the capture paths;
// everyone else only reads.
type LastMedia struct {
	mu  sync.RWMutex
	ref *Reference
}

// Set replaces the reference.
func (l *LastMedia) Set(ref Reference) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ref = &ref
}

// Get returns the reference, or false when nothing has been captured yet.
func (l *LastMedia) Get() (Reference, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.ref == nil {
		return Reference{}, false
	}
	return *l.ref, true
}
