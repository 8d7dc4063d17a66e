package media

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	goutils "go.viam.com/utils"
)

const partialSuffix = ".partial"

var extensions = map[string]string{
	MIMEJPEG: ".jpg",
	MIMEMP4:  ".mp4",
}

// FileSinkConfig configures a FileSink.
type FileSinkConfig struct {
	Root string
	// FrameInterval paces recordings. Zero means 30 frames per second.
	FrameInterval time.Duration
	Clock         clock.Clock
}

// FileSink stores captures as files under a root directory. Frame bytes are
// written as they come; the sink does not encode anything.
type FileSink struct {
	root     string
	interval time.Duration
	clk      clock.Clock
	logger   *zap.SugaredLogger
}

// NewFileSink creates the root directory if needed.
func NewFileSink(cfg FileSinkConfig, logger *zap.SugaredLogger) (*FileSink, error) {
	if cfg.Root == "" {
		return nil, errors.New("media root is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, errors.Wrap(err, "resolve media root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, "create media root")
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = time.Second / 30
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &FileSink{root: root, interval: cfg.FrameInterval, clk: cfg.Clock, logger: logger}, nil
}

// Root returns the absolute media root.
func (s *FileSink) Root() string { return s.root }

// CreateOutputTarget implements Sink.
func (s *FileSink) CreateOutputTarget(name, mimeType, category string) (OutputTarget, error) {
	ext, ok := extensions[mimeType]
	if !ok {
		return OutputTarget{}, errors.Errorf("unsupported MIME type %q", mimeType)
	}
	if name == "" || filepath.Base(name) != name {
		return OutputTarget{}, errors.Errorf("invalid target name %q", name)
	}
	dir := filepath.Join(s.root, filepath.FromSlash(category))
	if rel, err := filepath.Rel(s.root, dir); err != nil || strings.HasPrefix(rel, "..") {
		return OutputTarget{}, errors.Errorf("category %q escapes the media root", category)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return OutputTarget{}, errors.Wrapf(err, "create category %s", category)
	}
	path := filepath.Join(dir, name+ext)
	if _, err := os.Stat(path); err == nil {
		return OutputTarget{}, errors.Errorf("output %s already exists", path)
	}
	return OutputTarget{Name: name, MIMEType: mimeType, Category: category, Path: path}, nil
}

// URI returns the file URI of path.
func URI(path string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

// CapturePhoto reads one frame and writes it atomically to the target.
func (s *FileSink) CapturePhoto(ctx context.Context, target OutputTarget, src Source) (string, error) {
	frame, err := src.ReadFrame(ctx)
	if err != nil {
		return "", failure(target, err, "read frame")
	}
	tmp := target.Path + partialSuffix
	if err := os.WriteFile(tmp, frame, 0o644); err != nil {
		goutils.UncheckedError(os.Remove(tmp))
		return "", failure(target, err, "write photo")
	}
	if err := os.Rename(tmp, target.Path); err != nil {
		goutils.UncheckedError(os.Remove(tmp))
		return "", failure(target, err, "commit photo")
	}
	s.logger.Debugw("photo written", "path", target.Path, "bytes", len(frame))
	return URI(target.Path), nil
}

// StartRecording opens a partial file and streams frames into it until Stop.
// The partial file is renamed on success and removed on failure.
func (s *FileSink) StartRecording(ctx context.Context, target OutputTarget, src Source, audio bool) (Recording, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(target.Path+partialSuffix, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, failure(target, err, "open recording")
	}

	recCtx, cancel := context.WithCancel(context.Background())
	rec := &fileRecording{
		sink:   s,
		target: target,
		audio:  audio,
		file:   f,
		events: make(chan RecordEvent, 2),
		cancel: cancel,
	}
	rec.events <- RecordEvent{Kind: EventStarted}
	s.logger.Debugw("recording opened", "path", f.Name(), "audio", audio)

	goutils.PanicCapturingGo(func() { rec.run(recCtx, src) })
	return rec, nil
}

type fileRecording struct {
	sink   *FileSink
	target OutputTarget
	audio  bool
	file   *os.File
	events chan RecordEvent
	frames int

	stopOnce sync.Once
	cancel   context.CancelFunc
}

func (r *fileRecording) Events() <-chan RecordEvent { return r.events }

func (r *fileRecording) Stop() {
	r.stopOnce.Do(r.cancel)
}

func (r *fileRecording) run(ctx context.Context, src Source) {
	defer close(r.events)
	ticker := r.sink.clk.Ticker(r.sink.interval)
	defer ticker.Stop()

	var runErr error
	for runErr == nil {
		select {
		case <-ctx.Done():
			r.events <- r.finish(nil)
			return
		case <-ticker.C:
		}
		frame, err := src.ReadFrame(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			// stopped while reading
		case err != nil:
			runErr = errors.Wrap(err, "read frame")
		default:
			if _, err := r.file.Write(frame); err != nil {
				runErr = errors.Wrap(err, "write frame")
				break
			}
			r.frames++
		}
	}
	r.events <- r.finish(runErr)
}

func (r *fileRecording) finish(runErr error) RecordEvent {
	partial := r.file.Name()
	if err := r.file.Close(); err != nil && runErr == nil {
		runErr = errors.Wrap(err, "close recording")
	}
	if runErr == nil && r.frames == 0 {
		runErr = errors.New("no frames recorded")
	}
	if runErr == nil {
		if err := os.Rename(partial, r.target.Path); err != nil {
			runErr = errors.Wrap(err, "commit recording")
		}
	}
	if runErr != nil {
		goutils.UncheckedError(os.Remove(partial))
		return RecordEvent{Kind: EventFinalized, Err: &CaptureFailure{Target: r.target, Cause: runErr}}
	}
	r.sink.logger.Debugw("recording committed", "path", r.target.Path, "frames", r.frames, "audio", r.audio)
	return RecordEvent{Kind: EventFinalized, URI: URI(r.target.Path)}
}
