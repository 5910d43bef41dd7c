package gpio

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stianeikeland/go-rpio/v4"
)

// RPIODriver drives Raspberry Pi pins through /dev/gpiomem.
type RPIODriver struct {
	mu      sync.Mutex
	inputs  map[int]rpio.Pin
	outputs map[int]rpio.Pin
	logger  *logrus.Entry
}

// NewRPIODriver maps the GPIO registers. Close releases them.
func NewRPIODriver(logger *logrus.Entry) (*RPIODriver, error) {
	if err := rpio.Open(); err != nil {
		logger.Errorf("Failed to open GPIO: %v", err)
		return nil, errors.Wrap(err, "rpio open")
	}
	return &RPIODriver{
		inputs:  make(map[int]rpio.Pin),
		outputs: make(map[int]rpio.Pin),
		logger:  logger,
	}, nil
}

// SetupInput configures the pin as an input with the requested bias.
func (d *RPIODriver) SetupInput(pin int, pull Pull) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := rpio.Pin(pin)
	p.Input()
	switch pull {
	case PullUp:
		p.PullUp()
	case PullDown:
		p.PullDown()
	default:
		p.PullOff()
	}
	d.inputs[pin] = p
	d.logger.Infof("GPIO pin %d initialized as input (pull %d)", pin, pull)
	return nil
}

// SetupOutput configures the pin as an output driven to initial.
func (d *RPIODriver) SetupOutput(pin int, initial bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := rpio.Pin(pin)
	p.Output()
	p.Write(toState(initial))
	d.outputs[pin] = p
	d.logger.Infof("GPIO pin %d initialized as output, level %t", pin, initial)
	return nil
}

func (d *RPIODriver) Read(pin int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.inputs[pin]
	if !ok {
		return false, errors.Wrapf(ErrPinNotConfigured, "input %d", pin)
	}
	return p.Read() == rpio.High, nil
}

func (d *RPIODriver) ReadOutput(pin int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.outputs[pin]
	if !ok {
		return false, errors.Wrapf(ErrPinNotConfigured, "output %d", pin)
	}
	return p.Read() == rpio.High, nil
}

func (d *RPIODriver) Write(pin int, level bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.outputs[pin]
	if !ok {
		return errors.Wrapf(ErrPinNotConfigured, "output %d", pin)
	}
	p.Write(toState(level))
	return nil
}

func (d *RPIODriver) Toggle(pin int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.outputs[pin]
	if !ok {
		return false, errors.Wrapf(ErrPinNotConfigured, "output %d", pin)
	}
	p.Toggle()
	return p.Read() == rpio.High, nil
}

// Close releases the GPIO resources.
func (d *RPIODriver) Close() error {
	if err := rpio.Close(); err != nil {
		return errors.Wrap(err, "rpio close")
	}
	d.logger.Info("GPIO resources closed")
	return nil
}

func toState(level bool) rpio.State {
	if level {
		return rpio.High
	}
	return rpio.Low
}
