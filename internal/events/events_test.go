package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeFiltersKinds(t *testing.T) {
	b := NewBus(4)
	pulses := b.Subscribe(PulseStarted, PulseFinished)
	all := b.Subscribe()
	defer pulses.Close()
	defer all.Close()

	b.Trigger(Event{Kind: OutputChanged, Output: 2, Value: 1})
	b.Trigger(Event{Kind: PulseStarted, Output: 1, Value: 1})

	ev := <-pulses.Channel()
	assert.Equal(t, PulseStarted, ev.Kind)
	assert.Equal(t, 1, ev.Output)
	assert.False(t, ev.Time.IsZero())
	assert.Len(t, pulses.Channel(), 0)

	assert.Len(t, all.Channel(), 2)
}

func TestFullQueueDropsOldest(t *testing.T) {
	b := NewBus(2)
	s := b.Subscribe()
	defer s.Close()

	for i := 1; i <= 4; i++ {
		b.Trigger(Event{Kind: AttributeRequested, Attribute: i})
	}
	assert.Equal(t, 3, (<-s.Channel()).Attribute)
	assert.Equal(t, 4, (<-s.Channel()).Attribute)
}

func TestCloseIsIdempotent(t *testing.T) {
	b := NewBus(0)
	s := b.Subscribe()
	s.Close()
	s.Close()

	_, ok := <-s.Channel()
	assert.False(t, ok)
	assert.NotPanics(t, func() { b.Trigger(Event{Kind: TelemetryRequested}) })
}

func TestEventJSON(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	raw, err := json.Marshal(Event{Kind: PulseFinished, Output: 3, Value: 0, Time: ts})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"pulse_finished","output":3,"value":0,"ts":1700000000123}`, string(raw))
}
