//go:build linux

package gpio

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/warthog618/go-gpiocdev"
	"go.uber.org/multierr"
)

// CdevDriver uses the Linux GPIO character device. Pins are line offsets on
// the configured chip.
type CdevDriver struct {
	mu      sync.Mutex
	chip    *gpiocdev.Chip
	inputs  map[int]*gpiocdev.Line
	outputs map[int]*gpiocdev.Line
	logger  *logrus.Entry
}

// NewCdevDriver opens chip, e.g. "gpiochip0".
func NewCdevDriver(chip string, logger *logrus.Entry) (Driver, error) {
	if chip == "" {
		chip = "gpiochip0"
	}
	c, err := gpiocdev.NewChip(chip, gpiocdev.WithConsumer("boardd"))
	if err != nil {
		return nil, errors.Wrapf(err, "open chip %s", chip)
	}
	return &CdevDriver{
		chip:    c,
		inputs:  make(map[int]*gpiocdev.Line),
		outputs: make(map[int]*gpiocdev.Line),
		logger:  logger,
	}, nil
}

func (d *CdevDriver) SetupInput(pin int, pull Pull) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	opts := []gpiocdev.LineReqOption{gpiocdev.AsInput}
	switch pull {
	case PullUp:
		opts = append(opts, gpiocdev.WithPullUp)
	case PullDown:
		opts = append(opts, gpiocdev.WithPullDown)
	}
	line, err := d.chip.RequestLine(pin, opts...)
	if err != nil {
		return errors.Wrapf(err, "request input line %d", pin)
	}
	d.inputs[pin] = line
	return nil
}

func (d *CdevDriver) SetupOutput(pin int, initial bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	line, err := d.chip.RequestLine(pin, gpiocdev.AsOutput(toValue(initial)))
	if err != nil {
		return errors.Wrapf(err, "request output line %d", pin)
	}
	d.outputs[pin] = line
	return nil
}

func (d *CdevDriver) Read(pin int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value(d.inputs, pin)
}

func (d *CdevDriver) ReadOutput(pin int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value(d.outputs, pin)
}

func (d *CdevDriver) value(lines map[int]*gpiocdev.Line, pin int) (bool, error) {
	line, ok := lines[pin]
	if !ok {
		return false, errors.Wrapf(ErrPinNotConfigured, "line %d", pin)
	}
	v, err := line.Value()
	if err != nil {
		return false, errors.Wrapf(err, "read line %d", pin)
	}
	return v != 0, nil
}

func (d *CdevDriver) Write(pin int, level bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.set(pin, level)
}

func (d *CdevDriver) set(pin int, level bool) error {
	line, ok := d.outputs[pin]
	if !ok {
		return errors.Wrapf(ErrPinNotConfigured, "output line %d", pin)
	}
	if err := line.SetValue(toValue(level)); err != nil {
		return errors.Wrapf(err, "set line %d", pin)
	}
	return nil
}

func (d *CdevDriver) Toggle(pin int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur, err := d.value(d.outputs, pin)
	if err != nil {
		return false, err
	}
	if err := d.set(pin, !cur); err != nil {
		return false, err
	}
	return !cur, nil
}

// Close releases every requested line and then the chip.
func (d *CdevDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	closeLine := func(l *gpiocdev.Line) error { return l.Close() }
	err := multierr.Combine(
		releaseAll("input line", d.inputs, closeLine),
		releaseAll("output line", d.outputs, closeLine),
	)
	d.inputs = make(map[int]*gpiocdev.Line)
	d.outputs = make(map[int]*gpiocdev.Line)
	if cerr := d.chip.Close(); cerr != nil {
		err = multierr.Append(err, errors.Wrap(cerr, "close chip"))
	}
	return err
}

func toValue(level bool) int {
	if level {
		return 1
	}
	return 0
}
