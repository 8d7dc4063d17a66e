// Package permission answers whether the process may use a capture capability.
package permission

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// ErrDenied reports a capability that was not granted.
var ErrDenied = errors.New("permission denied")

// Capability is a privacy-guarded input.
type Capability string

const (
	Camera     Capability = "camera"
	Microphone Capability = "microphone"
)

// ParseCapability accepts "camera" or "microphone".
func ParseCapability(s string) (Capability, error) {
	switch c := Capability(strings.ToLower(strings.TrimSpace(s))); c {
	case Camera, Microphone:
		return c, nil
	}
	return "", errors.Errorf("unknown capability %q", s)
}

// Oracle is queried at the moment a capability is about to be used. Grants
// can change at any time, so answers are never cached by callers.
type Oracle interface {
	IsGranted(c Capability) bool
}

// Static is an Oracle whose grants are set by configuration or by tests.
type Static struct {
	mu      sync.RWMutex
	granted map[Capability]bool
}

// NewStatic grants exactly the given capabilities.
func NewStatic(granted ...Capability) *Static {
	s := &Static{granted: make(map[Capability]bool)}
	for _, c := range granted {
		s.granted[c] = true
	}
	return s
}

// IsGranted implements Oracle.
func (s *Static) IsGranted(c Capability) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.granted[c]
}

// Grant allows c.
func (s *Static) Grant(c Capability) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.granted[c] = true
}

// Revoke denies c.
func (s *Static) Revoke(c Capability) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.granted, c)
}
