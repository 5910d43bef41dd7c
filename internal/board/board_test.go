package board

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/preesu/boardd/internal/events"
	"github.com/preesu/boardd/internal/gpio"
	"github.com/preesu/boardd/internal/loop"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPins = Pins{
	Inputs:  [Channels]int{4, 5, 6, 7},
	Outputs: [Channels]int{12, 13, 14, 15},
}

type tester struct {
	t    *testing.T
	ctx  context.Context
	drv  *gpio.SimDriver
	bus  *events.Bus
	ctrl *Controller
}

func makeTester(t *testing.T) *tester {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	entry := logrus.NewEntry(logger)

	ctx, cancel := context.WithCancel(context.Background())
	l := loop.New()
	bus := events.NewBus(32)
	drv := gpio.NewSimDriver(entry)
	ctrl := NewController(testPins, drv, l, bus, entry)
	require.NoError(t, ctrl.Init())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return &tester{t: t, ctx: ctx, drv: drv, bus: bus, ctrl: ctrl}
}

func (tt *tester) output(n int) bool {
	v, err := tt.drv.ReadOutput(testPins.Outputs[n-1])
	require.NoError(tt.t, err)
	return v
}

func (tt *tester) next(sub *events.Subscription, timeout time.Duration) (events.Event, bool) {
	select {
	case ev := <-sub.Channel():
		return ev, true
	case <-time.After(timeout):
		return events.Event{}, false
	}
}

func TestInitDrivesOutputsLow(t *testing.T) {
	tt := makeTester(t)
	for n := 1; n <= Channels; n++ {
		assert.False(t, tt.output(n))
	}
	st, err := tt.ctrl.ReadStatus(tt.ctx)
	require.NoError(t, err)
	assert.Equal(t, [Channels]bool{true, true, true, true}, st.Inputs)
}

func TestPulseReturnsLowAndClearsTimer(t *testing.T) {
	tt := makeTester(t)
	for n := 1; n <= Channels; n++ {
		res, err := tt.ctrl.Pulse(tt.ctx, n, 20*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, OutputState{Output: n, Value: 1}, res)
		assert.True(t, tt.output(n))

		active, err := tt.ctrl.PulseActive(tt.ctx, n)
		require.NoError(t, err)
		assert.True(t, active)
	}

	assert.Eventually(t, func() bool {
		for n := 1; n <= Channels; n++ {
			if tt.output(n) {
				return false
			}
			if active, _ := tt.ctrl.PulseActive(tt.ctx, n); active {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)
}

func TestRepulseCancelsFirstTimer(t *testing.T) {
	tt := makeTester(t)
	sub := tt.bus.Subscribe(events.PulseFinished)
	defer sub.Close()

	start := time.Now()
	_, err := tt.ctrl.Pulse(tt.ctx, 2, 30*time.Millisecond)
	require.NoError(t, err)
	_, err = tt.ctrl.Pulse(tt.ctx, 2, 120*time.Millisecond)
	require.NoError(t, err)

	ev, ok := tt.next(sub, time.Second)
	require.True(t, ok)
	assert.Equal(t, 2, ev.Output)
	assert.GreaterOrEqual(t, time.Since(start), 120*time.Millisecond)
	assert.False(t, tt.output(2))

	_, ok = tt.next(sub, 100*time.Millisecond)
	assert.False(t, ok, "only one pulse_finished expected")
}

func TestSetOutputCancelsPendingPulse(t *testing.T) {
	tt := makeTester(t)
	sub := tt.bus.Subscribe(events.PulseFinished, events.OutputChanged)
	defer sub.Close()

	_, err := tt.ctrl.Pulse(tt.ctx, 3, 40*time.Millisecond)
	require.NoError(t, err)
	_, err = tt.ctrl.SetOutput(tt.ctx, 3, ActionHigh)
	require.NoError(t, err)

	ev, ok := tt.next(sub, time.Second)
	require.True(t, ok)
	assert.Equal(t, events.OutputChanged, ev.Kind)
	assert.Equal(t, 1, ev.Value)

	_, ok = tt.next(sub, 100*time.Millisecond)
	assert.False(t, ok, "cancelled pulse must not finish")
	assert.True(t, tt.output(3))

	res, err := tt.ctrl.SetOutput(tt.ctx, 3, ActionLow)
	require.NoError(t, err)
	assert.Equal(t, OutputState{Output: 3, Value: 0}, res)
	assert.False(t, tt.output(3))
}

func TestSetOutputToggle(t *testing.T) {
	tt := makeTester(t)
	res, err := tt.ctrl.SetOutput(tt.ctx, 1, ActionToggle)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Value)
	res, err = tt.ctrl.SetOutput(tt.ctx, 1, ActionToggle)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Value)
}

func TestValidation(t *testing.T) {
	tt := makeTester(t)
	for _, out := range []int{-1, 0, 5, 100} {
		_, err := tt.ctrl.Pulse(tt.ctx, out, time.Second)
		assert.True(t, errors.Is(err, ErrInvalidArgument))
		assert.EqualError(t, err, "Invalid output number")

		_, err = tt.ctrl.SetOutput(tt.ctx, out, ActionHigh)
		assert.True(t, errors.Is(err, ErrInvalidArgument))
	}
	for _, d := range []time.Duration{0, -time.Millisecond} {
		_, err := tt.ctrl.Pulse(tt.ctx, 1, d)
		assert.EqualError(t, err, "Pulse should be a positive number")
	}
	_, err := tt.ctrl.SetOutput(tt.ctx, 1, Action(7))
	assert.EqualError(t, err, "Invalid action")
	assert.Equal(t, 0, tt.drv.Writes())
}

func TestReadStatusReflectsCommands(t *testing.T) {
	tt := makeTester(t)
	sub := tt.bus.Subscribe(events.InputStateRequested)
	defer sub.Close()

	_, err := tt.ctrl.SetOutput(tt.ctx, 2, ActionHigh)
	require.NoError(t, err)
	_, err = tt.ctrl.Pulse(tt.ctx, 4, time.Minute)
	require.NoError(t, err)
	tt.drv.SetInput(testPins.Inputs[0], false)

	st, err := tt.ctrl.ReadStatus(tt.ctx)
	require.NoError(t, err)
	assert.Equal(t, [Channels]bool{false, true, false, true}, st.Outputs)
	assert.Equal(t, [Channels]bool{false, true, true, true}, st.Inputs)

	_, ok := tt.next(sub, time.Second)
	assert.True(t, ok)
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction("toggle")
	require.NoError(t, err)
	assert.Equal(t, ActionToggle, a)
	_, err = ParseAction("blink")
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestStatusReport(t *testing.T) {
	st := Status{
		Inputs:  [Channels]bool{true, false, true, false},
		Outputs: [Channels]bool{false, false, true, true},
	}
	assert.Equal(t, map[string]int{
		"input1": 1, "input2": -1, "input3": 1, "input4": -1,
		"output1": -1, "output2": -1, "output3": 1, "output4": 1,
	}, st.Report())
}

type brokenInputs struct {
	*gpio.SimDriver
	fail bool
}

func (d *brokenInputs) Read(pin int) (bool, error) {
	if d.fail {
		return false, errors.New("read failed")
	}
	return d.SimDriver.Read(pin)
}

func TestReadStatusFailureEmitsNothing(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	entry := logrus.NewEntry(logger)

	ctx, cancel := context.WithCancel(context.Background())
	l := loop.New()
	bus := events.NewBus(4)
	drv := &brokenInputs{SimDriver: gpio.NewSimDriver(entry)}
	ctrl := NewController(testPins, drv, l, bus, entry)
	require.NoError(t, ctrl.Init())
	go l.Run(ctx)
	defer func() {
		cancel()
		<-l.Done()
	}()

	sub := bus.Subscribe(events.InputStateRequested)
	defer sub.Close()

	drv.fail = true
	_, err := ctrl.ReadStatus(ctx)
	assert.EqualError(t, err, "read failed")

	select {
	case ev := <-sub.Channel():
		t.Fatalf("unexpected %s after a failed read", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}
