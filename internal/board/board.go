// Package board implements the four-input, four-output controller. All pin
// access and timer bookkeeping happens on the event loop, so the controller
// may be called from any goroutine.
package board

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/preesu/boardd/internal/events"
	"github.com/preesu/boardd/internal/gpio"
	"github.com/preesu/boardd/internal/loop"
	"github.com/sirupsen/logrus"
)

// Channels is the number of inputs and of outputs on the board.
const Channels = 4

// ErrInvalidArgument marks request validation failures.
var ErrInvalidArgument = errors.New("invalid argument")

type argError string

func (e argError) Error() string { return string(e) }
func (e argError) Unwrap() error { return ErrInvalidArgument }

const (
	errInvalidOutput = argError("Invalid output number")
	errInvalidPulse  = argError("Pulse should be a positive number")
	errInvalidAction = argError("Invalid action")
)

// Action is what SetOutput does to a pin. The numeric values are the wire
// encoding.
type Action int

const (
	ActionToggle Action = -1
	ActionLow    Action = 0
	ActionHigh   Action = 1
)

// ParseAction accepts "toggle", "low" or "high".
func ParseAction(s string) (Action, error) {
	switch s {
	case "toggle":
		return ActionToggle, nil
	case "low":
		return ActionLow, nil
	case "high":
		return ActionHigh, nil
	}
	return 0, errInvalidAction
}

func (a Action) valid() bool {
	return a == ActionToggle || a == ActionLow || a == ActionHigh
}

// Pins assigns GPIO numbers to the board channels.
type Pins struct {
	Inputs  [Channels]int
	Outputs [Channels]int
}

// OutputState is the result of a pulse or output command. Output is 1-based.
type OutputState struct {
	Output int `json:"output"`
	Value  int `json:"value"`
}

// Status holds the level of every channel, index 0 being channel 1.
type Status struct {
	Inputs  [Channels]bool
	Outputs [Channels]bool
}

// Report encodes the status the way Device.Input answers: inputN and
// outputN keys, 1 for high and -1 for low.
func (s Status) Report() map[string]int {
	r := make(map[string]int, 2*Channels)
	for i := 0; i < Channels; i++ {
		r[fmt.Sprintf("input%d", i+1)] = level(s.Inputs[i])
		r[fmt.Sprintf("output%d", i+1)] = level(s.Outputs[i])
	}
	return r
}

func level(v bool) int {
	if v {
		return 1
	}
	return -1
}

// Controller owns the board pins and one pulse timer per output.
type Controller struct {
	pins   Pins
	drv    gpio.Driver
	loop   *loop.Loop
	bus    *events.Bus
	logger *logrus.Entry

	timers [Channels]loop.TimerID

	stable    [Channels]bool
	candidate [Channels]bool
	since     [Channels]time.Time
}

// NewController creates a Controller for pins. Call Init before use.
func NewController(pins Pins, drv gpio.Driver, l *loop.Loop, bus *events.Bus, logger *logrus.Entry) *Controller {
	return &Controller{
		pins:   pins,
		drv:    drv,
		loop:   l,
		bus:    bus,
		logger: logger,
	}
}

// Init configures inputs with pull-up and drives every output low. Call it
// before the loop starts serving requests.
func (c *Controller) Init() error {
	for i, pin := range c.pins.Inputs {
		if err := c.drv.SetupInput(pin, gpio.PullUp); err != nil {
			return fmt.Errorf("setup input%d: %w", i+1, err)
		}
		level, err := c.drv.Read(pin)
		if err != nil {
			return fmt.Errorf("read input%d: %w", i+1, err)
		}
		c.stable[i], c.candidate[i] = level, level
	}
	for i, pin := range c.pins.Outputs {
		if err := c.drv.SetupOutput(pin, false); err != nil {
			return fmt.Errorf("setup output%d: %w", i+1, err)
		}
		c.timers[i] = loop.InvalidTimer
	}
	c.logger.WithFields(logrus.Fields{
		"inputs":  c.pins.Inputs,
		"outputs": c.pins.Outputs,
	}).Info("Board initialized")
	return nil
}

// CheckOutput reports whether output names one of the board outputs.
func CheckOutput(output int) error {
	_, err := channel(output)
	return err
}

func channel(output int) (int, error) {
	if output < 1 || output > Channels {
		return 0, errInvalidOutput
	}
	return output - 1, nil
}

// Pulse drives output high for d, then low again. A pulse already running on
// the output is cancelled first.
func (c *Controller) Pulse(ctx context.Context, output int, d time.Duration) (OutputState, error) {
	if d <= 0 {
		return OutputState{}, errInvalidPulse
	}
	idx, err := channel(output)
	if err != nil {
		return OutputState{}, err
	}

	var werr error
	if err := c.loop.Call(ctx, func() { werr = c.pulse(idx, d) }); err != nil {
		return OutputState{}, err
	}
	if werr != nil {
		return OutputState{}, werr
	}
	return OutputState{Output: output, Value: 1}, nil
}

func (c *Controller) pulse(idx int, d time.Duration) error {
	c.loop.ClearTimer(c.timers[idx])
	c.timers[idx] = loop.InvalidTimer

	if err := c.drv.Write(c.pins.Outputs[idx], true); err != nil {
		return err
	}
	c.timers[idx] = c.loop.SetTimer(d, func() { c.finishPulse(idx) })
	c.logger.Debugf("output%d pulse armed for %s", idx+1, d)
	c.emit(events.Event{Kind: events.PulseStarted, Output: idx + 1, Value: 1})
	return nil
}

func (c *Controller) finishPulse(idx int) {
	c.timers[idx] = loop.InvalidTimer
	if err := c.drv.Write(c.pins.Outputs[idx], false); err != nil {
		c.logger.Errorf("output%d pulse end: %v", idx+1, err)
	}
	c.emit(events.Event{Kind: events.PulseFinished, Output: idx + 1, Value: 0})
}

// SetOutput cancels any pending pulse on output and applies action.
func (c *Controller) SetOutput(ctx context.Context, output int, action Action) (OutputState, error) {
	idx, err := channel(output)
	if err != nil {
		return OutputState{}, err
	}
	if !action.valid() {
		return OutputState{}, errInvalidAction
	}

	var (
		level bool
		werr  error
	)
	err = c.loop.Call(ctx, func() {
		c.loop.ClearTimer(c.timers[idx])
		c.timers[idx] = loop.InvalidTimer

		pin := c.pins.Outputs[idx]
		switch action {
		case ActionToggle:
			level, werr = c.drv.Toggle(pin)
		case ActionLow:
			werr = c.drv.Write(pin, false)
		case ActionHigh:
			level = true
			werr = c.drv.Write(pin, true)
		}
		if werr == nil {
			c.emit(events.Event{Kind: events.OutputChanged, Output: idx + 1, Value: boolToInt(level)})
		}
	})
	if err != nil {
		return OutputState{}, err
	}
	if werr != nil {
		return OutputState{}, werr
	}
	return OutputState{Output: output, Value: boolToInt(level)}, nil
}

// ReadStatus reads every input and the driven level of every output.
func (c *Controller) ReadStatus(ctx context.Context) (Status, error) {
	var (
		st   Status
		rerr error
	)
	err := c.loop.Call(ctx, func() {
		st, rerr = c.readAll()
		if rerr == nil {
			c.emit(events.Event{Kind: events.InputStateRequested})
		}
	})
	if err != nil {
		return Status{}, err
	}
	return st, rerr
}

func (c *Controller) readAll() (Status, error) {
	var st Status
	for i, pin := range c.pins.Inputs {
		v, err := c.drv.Read(pin)
		if err != nil {
			return Status{}, err
		}
		st.Inputs[i] = v
	}
	for i, pin := range c.pins.Outputs {
		v, err := c.drv.ReadOutput(pin)
		if err != nil {
			return Status{}, err
		}
		st.Outputs[i] = v
	}
	return st, nil
}

// Snapshot reads the board without emitting a notification.
func (c *Controller) Snapshot(ctx context.Context) (Status, error) {
	var (
		st   Status
		rerr error
	)
	if err := c.loop.Call(ctx, func() { st, rerr = c.readAll() }); err != nil {
		return Status{}, err
	}
	return st, rerr
}

// PulseActive reports whether output has a pulse timer pending.
func (c *Controller) PulseActive(ctx context.Context, output int) (bool, error) {
	idx, err := channel(output)
	if err != nil {
		return false, err
	}
	var active bool
	err = c.loop.Call(ctx, func() {
		active = c.timers[idx] != loop.InvalidTimer && c.loop.Pending(c.timers[idx])
	})
	return active, err
}

func (c *Controller) emit(ev events.Event) {
	if c.bus != nil {
		c.bus.Trigger(ev)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
