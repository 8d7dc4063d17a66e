package gpio

import (
	"github.com/pkg/errors"
	"github.com/stianeikeland/go-rpio/v4"
	"go.uber.org/zap"
)

// RPiDriver is the real implementation for Raspberry Pi using go-rpio.
type RPiDriver struct {
	logger *zap.SugaredLogger
	pins   map[int]rpio.Pin
}

// NewRPiRealDriver memory-maps the GPIO registers.
// Requires a Raspberry Pi with access to /dev/gpiomem, or root.
func NewRPiRealDriver(logger *zap.SugaredLogger) (*RPiDriver, error) {
	if err := rpio.Open(); err != nil {
		return nil, errors.Wrap(err, "failed to open GPIO (are you running on a Raspberry Pi?)")
	}
	logger.Debug("GPIO memory mapped")

	return &RPiDriver{
		logger: logger,
		pins:   make(map[int]rpio.Pin),
	}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	r.logger.Debugw("gpio setup", "pin", pin, "mode", mode)

	p := rpio.Pin(pin)
	switch mode {
	case Input:
		p.Input()
	case Output:
		p.Output()
	default:
		return errors.Errorf("unknown pin mode: %d", mode)
	}
	r.pins[pin] = p
	return nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	r.logger.Debugw("gpio write", "pin", pin, "level", level)

	p, ok := r.pins[pin]
	if !ok {
		if err := r.SetupPin(pin, Output); err != nil {
			return err
		}
		p = r.pins[pin]
	}

	if level == High {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	p, ok := r.pins[pin]
	if !ok {
		if err := r.SetupPin(pin, Input); err != nil {
			return Low, err
		}
		p = r.pins[pin]
	}

	if p.Read() == rpio.High {
		return High, nil
	}
	return Low, nil
}

// Close drives every output low, returns pins to input and unmaps the registers.
func (r *RPiDriver) Close() error {
	for pin, p := range r.pins {
		r.logger.Debugw("resetting pin to input", "pin", pin)
		p.Low()
		p.Input()
	}
	return rpio.Close()
}
