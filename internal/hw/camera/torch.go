package camera

import (
	"github.com/pkg/errors"

	"github.com/cjeanneret/CamGo/internal/hw/gpio"
)

// GPIOTorch is a flash unit wired to one GPIO output pin, active high.
type GPIOTorch struct {
	driver gpio.Driver
	pin    int
}

// NewGPIOTorch configures pin as an output and leaves the torch off.
func NewGPIOTorch(driver gpio.Driver, pin int) (*GPIOTorch, error) {
	if err := driver.SetupPin(pin, gpio.Output); err != nil {
		return nil, errors.Wrapf(err, "setup torch pin %d", pin)
	}
	if err := driver.WritePin(pin, gpio.Low); err != nil {
		return nil, errors.Wrapf(err, "reset torch pin %d", pin)
	}
	return &GPIOTorch{driver: driver, pin: pin}, nil
}

// Set drives the torch pin.
func (t *GPIOTorch) Set(on bool) error {
	return errors.Wrapf(t.driver.WritePin(t.pin, gpio.Level(on)), "torch pin %d", t.pin)
}

// On reads back the pin level.
func (t *GPIOTorch) On() (bool, error) {
	level, err := t.driver.ReadPin(t.pin)
	return bool(level), err
}
