package camera

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// OpenFunc reaches the camera subsystem and returns a device handle.
type OpenFunc func(ctx context.Context) (Device, error)

// Unavailable marks cause as a DeviceUnavailable failure while keeping it in the chain.
func Unavailable(cause error) error {
	if cause == nil || errors.Is(cause, ErrDeviceUnavailable) {
		return cause
	}
	return &unavailableError{cause: cause}
}

type unavailableError struct {
	cause error
}

func (e *unavailableError) Error() string {
	return ErrDeviceUnavailable.Error() + ": " + e.cause.Error()
}

func (e *unavailableError) Is(target error) bool { return target == ErrDeviceUnavailable }

func (e *unavailableError) Unwrap() error { return e.cause }

func (e *unavailableError) Cause() error { return e.cause }

// Provider resolves the device once per process and hands the same handle
// to every caller. Concurrent first callers share one resolution. A failed
// resolution is not cached, so the next Acquire tries again.
type Provider struct {
	open   OpenFunc
	logger *zap.SugaredLogger
	group  singleflight.Group

	mu     sync.Mutex
	device Device
}

// NewProvider returns a provider that resolves devices with open.
func NewProvider(open OpenFunc, logger *zap.SugaredLogger) *Provider {
	return &Provider{open: open, logger: logger}
}

// Acquire returns the cached device, or resolves it. It returns
// ErrDeviceUnavailable (wrapping the cause) when the subsystem cannot be reached.
func (p *Provider) Acquire(ctx context.Context) (Device, error) {
	if d := p.cached(); d != nil {
		return d, nil
	}

	// the resolution outlives any one caller giving up on it
	openCtx := context.WithoutCancel(ctx)
	ch := p.group.DoChan("device", func() (interface{}, error) {
		if d := p.cached(); d != nil {
			return d, nil
		}
		p.logger.Debug("resolving capture device")
		d, err := p.open(openCtx)
		if err != nil {
			return nil, Unavailable(err)
		}
		p.mu.Lock()
		p.device = d
		p.mu.Unlock()
		p.logger.Info("capture device resolved")
		return d, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			p.logger.Warnw("capture device unavailable", "error", res.Err)
			return nil, res.Err
		}
		return res.Val.(Device), nil
	}
}

// Close releases the cached device. A later Acquire resolves a new one.
func (p *Provider) Close() error {
	p.mu.Lock()
	d := p.device
	p.device = nil
	p.mu.Unlock()
	if d == nil {
		return nil
	}
	return d.Close()
}

func (p *Provider) cached() Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.device
}
