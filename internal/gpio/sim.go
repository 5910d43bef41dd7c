package gpio

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SimDriver keeps pin levels in memory. It backs development runs without
// hardware and the package tests.
type SimDriver struct {
	mu      sync.Mutex
	inputs  map[int]bool
	outputs map[int]bool
	writes  int
	logger  *logrus.Entry
}

// NewSimDriver creates a new SimDriver instance with no pins configured.
func NewSimDriver(logger *logrus.Entry) *SimDriver {
	return &SimDriver{
		inputs:  make(map[int]bool),
		outputs: make(map[int]bool),
		logger:  logger,
	}
}

// SetupInput sets the idle level implied by pull: high for pull-up, low
// otherwise.
func (d *SimDriver) SetupInput(pin int, pull Pull) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inputs[pin] = pull == PullUp
	return nil
}

func (d *SimDriver) SetupOutput(pin int, initial bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outputs[pin] = initial
	return nil
}

// SetInput drives a simulated input line.
func (d *SimDriver) SetInput(pin int, level bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inputs[pin] = level
	d.logger.Debugf("sim input %d -> %t", pin, level)
}

func (d *SimDriver) Read(pin int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.inputs[pin]
	if !ok {
		return false, errors.Wrapf(ErrPinNotConfigured, "input %d", pin)
	}
	return v, nil
}

func (d *SimDriver) ReadOutput(pin int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.outputs[pin]
	if !ok {
		return false, errors.Wrapf(ErrPinNotConfigured, "output %d", pin)
	}
	return v, nil
}

func (d *SimDriver) Write(pin int, level bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.outputs[pin]; !ok {
		return errors.Wrapf(ErrPinNotConfigured, "output %d", pin)
	}
	d.outputs[pin] = level
	d.writes++
	return nil
}

func (d *SimDriver) Toggle(pin int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.outputs[pin]
	if !ok {
		return false, errors.Wrapf(ErrPinNotConfigured, "output %d", pin)
	}
	d.outputs[pin] = !v
	d.writes++
	return !v, nil
}

// Writes counts output changes since creation.
func (d *SimDriver) Writes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}

func (d *SimDriver) Close() error { return nil }
