package gpio

import (
	"sync"

	"go.uber.org/zap"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
)

// Driver is the minimal pin API the torch unit needs. A real Raspberry Pi
// implementation and an in-memory mock both satisfy it.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// NewDriver returns the mock driver when mock is true, the go-rpio driver otherwise.
func NewDriver(mock bool, logger *zap.SugaredLogger) (Driver, error) {
	if mock {
		logger.Infow("using mock GPIO driver")
		return NewMockDriver(logger), nil
	}
	return NewRPiRealDriver(logger)
}

// MockDriver keeps pin levels in memory. Used on development machines and in tests.
type MockDriver struct {
	logger *zap.SugaredLogger

	mu     sync.Mutex
	modes  map[int]PinMode
	levels map[int]Level
	writes int
}

// NewMockDriver returns an empty mock driver.
func NewMockDriver(logger *zap.SugaredLogger) *MockDriver {
	return &MockDriver{
		logger: logger,
		modes:  make(map[int]PinMode),
		levels: make(map[int]Level),
	}
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	m.logger.Debugw("gpio setup", "pin", pin, "mode", mode)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modes[pin] = mode
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	m.logger.Debugw("gpio write", "pin", pin, "level", level)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[pin] = level
	m.writes++
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[pin], nil
}

func (m *MockDriver) Close() error {
	m.logger.Debug("gpio close (mock)")
	return nil
}

// Writes returns how many WritePin calls the driver has seen.
func (m *MockDriver) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
