package gpio

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PeriphDriver addresses pins through the periph.io registry by their
// "GPIO<n>" names.
type PeriphDriver struct {
	mu      sync.Mutex
	inputs  map[int]pgpio.PinIO
	outputs map[int]pgpio.PinIO
	levels  map[int]pgpio.Level
	logger  *logrus.Entry
}

// NewPeriphDriver initialises periph host drivers.
func NewPeriphDriver(logger *logrus.Entry) (*PeriphDriver, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "periph host init")
	}
	return &PeriphDriver{
		inputs:  make(map[int]pgpio.PinIO),
		outputs: make(map[int]pgpio.PinIO),
		levels:  make(map[int]pgpio.Level),
		logger:  logger,
	}, nil
}

func (d *PeriphDriver) lookup(pin int) (pgpio.PinIO, error) {
	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", pin))
	if p == nil {
		return nil, errors.Errorf("no such pin GPIO%d", pin)
	}
	return p, nil
}

func (d *PeriphDriver) SetupInput(pin int, pull Pull) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, err := d.lookup(pin)
	if err != nil {
		return err
	}
	bias := pgpio.Float
	switch pull {
	case PullUp:
		bias = pgpio.PullUp
	case PullDown:
		bias = pgpio.PullDown
	}
	if err := p.In(bias, pgpio.NoEdge); err != nil {
		return errors.Wrapf(err, "configure input %s", p.Name())
	}
	d.inputs[pin] = p
	d.logger.Debugf("%s configured as input", p.Name())
	return nil
}

func (d *PeriphDriver) SetupOutput(pin int, initial bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, err := d.lookup(pin)
	if err != nil {
		return err
	}
	if err := p.Out(pgpio.Level(initial)); err != nil {
		return errors.Wrapf(err, "configure output %s", p.Name())
	}
	d.outputs[pin] = p
	d.levels[pin] = pgpio.Level(initial)
	d.logger.Debugf("%s configured as output", p.Name())
	return nil
}

func (d *PeriphDriver) Read(pin int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.inputs[pin]
	if !ok {
		return false, errors.Wrapf(ErrPinNotConfigured, "input %d", pin)
	}
	return bool(p.Read()), nil
}

// ReadOutput reports the last level written; not every periph driver can
// read back an output.
func (d *PeriphDriver) ReadOutput(pin int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.outputs[pin]; !ok {
		return false, errors.Wrapf(ErrPinNotConfigured, "output %d", pin)
	}
	return bool(d.levels[pin]), nil
}

func (d *PeriphDriver) Write(pin int, level bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.write(pin, pgpio.Level(level))
}

func (d *PeriphDriver) write(pin int, level pgpio.Level) error {
	p, ok := d.outputs[pin]
	if !ok {
		return errors.Wrapf(ErrPinNotConfigured, "output %d", pin)
	}
	if err := p.Out(level); err != nil {
		return errors.Wrapf(err, "write %s", p.Name())
	}
	d.levels[pin] = level
	return nil
}

func (d *PeriphDriver) Toggle(pin int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	next := !d.levels[pin]
	if err := d.write(pin, next); err != nil {
		return false, err
	}
	return bool(next), nil
}

// Close halts every configured pin and returns the combined failures.
func (d *PeriphDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	halt := func(p pgpio.PinIO) error { return p.Halt() }
	return multierr.Combine(
		releaseAll("input", d.inputs, halt),
		releaseAll("output", d.outputs, halt),
	)
}
