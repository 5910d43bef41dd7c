package gpio

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// Pull selects the bias applied to an input pin.
type Pull int

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// ErrPinNotConfigured is returned for pins that were never set up.
var ErrPinNotConfigured = errors.New("pin not configured")

// Driver is the pin-level hardware abstraction used by the board controller.
// Pins are BCM numbers, or line offsets for the cdev backend.
type Driver interface {
	SetupInput(pin int, pull Pull) error
	SetupOutput(pin int, initial bool) error
	Read(pin int) (bool, error)
	// ReadOutput returns the level an output pin is currently driven to.
	ReadOutput(pin int) (bool, error)
	Write(pin int, level bool) error
	// Toggle inverts an output and returns the new level.
	Toggle(pin int) (bool, error)
	Close() error
}

// Backend names accepted by Open.
const (
	BackendRPIO   = "rpio"
	BackendPeriph = "periph"
	BackendCdev   = "cdev"
	BackendSim    = "sim"
)

// Open creates the driver named by backend. chip is only used by the cdev
// backend.
func Open(backend, chip string, logger *logrus.Entry) (Driver, error) {
	switch strings.ToLower(backend) {
	case BackendRPIO, "":
		d, err := NewRPIODriver(logger)
		if err != nil {
			return nil, err
		}
		return d, nil
	case BackendPeriph:
		d, err := NewPeriphDriver(logger)
		if err != nil {
			return nil, err
		}
		return d, nil
	case BackendCdev:
		return NewCdevDriver(chip, logger)
	case BackendSim:
		return NewSimDriver(logger), nil
	default:
		return nil, errors.Errorf("unknown gpio driver %q", backend)
	}
}

// releaseAll calls release on every pin and combines the failures. Each
// failure keeps its cause, so errors.Is still matches it.
func releaseAll[P any](kind string, pins map[int]P, release func(P) error) error {
	var err error
	for pin, p := range pins {
		if rerr := release(p); rerr != nil {
			err = multierr.Append(err, errors.Wrapf(rerr, "release %s %d", kind, pin))
		}
	}
	return err
}
