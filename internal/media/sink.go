// Package media turns frames from a bound device into persisted photos and
// recordings, and remembers the last one that was saved.
package media

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	MIMEJPEG = "image/jpeg"
	MIMEMP4  = "video/mp4"

	// CategoryCamera is where captures land, as on a phone.
	CategoryCamera = "DCIM/Camera"
)

// TargetName formats t as yyyy-MM-dd-HH-mm-ss-SSS.
func TargetName(t time.Time) string {
	return strings.Replace(t.Format("2006-01-02-15-04-05.000"), ".", "-", 1)
}

// OutputTarget is a destination created before a capture starts.
type OutputTarget struct {
	Name     string
	MIMEType string
	Category string
	Path     string
}

// Source yields encoded frames. A bound device control is one.
type Source interface {
	ReadFrame(ctx context.Context) ([]byte, error)
}

// RecordEventKind tags a RecordEvent.
type RecordEventKind int

const (
	EventStarted RecordEventKind = iota
	EventFinalized
)

func (k RecordEventKind) String() string {
	if k == EventFinalized {
		return "finalized"
	}
	return "started"
}

// RecordEvent is emitted by a Recording. A Finalized event carries either
// the URI of the saved output or the error that discarded it.
type RecordEvent struct {
	Kind RecordEventKind
	URI  string
	Err  error
}

// Recording is a running video capture. Events delivers Started once, then
// Finalized once, then is closed.
type Recording interface {
	Events() <-chan RecordEvent
	// Stop asks the recording to close its output. It returns immediately;
	// the outcome arrives as a Finalized event.
	Stop()
}

// Sink persists captures.
type Sink interface {
	CreateOutputTarget(name, mimeType, category string) (OutputTarget, error)
	CapturePhoto(ctx context.Context, target OutputTarget, src Source) (string, error)
	StartRecording(ctx context.Context, target OutputTarget, src Source, audio bool) (Recording, error)
}

// CaptureFailure reports a photo or recording that could not be saved.
type CaptureFailure struct {
	Target OutputTarget
	Cause  error
}

func (e *CaptureFailure) Error() string {
	return "capture " + e.Target.Name + " failed: " + e.Cause.Error()
}

func (e *CaptureFailure) Unwrap() error { return e.Cause }

func failure(target OutputTarget, cause error, msg string) error {
	return &CaptureFailure{Target: target, Cause: errors.Wrap(cause, msg)}
}
