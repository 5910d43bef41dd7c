package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Kind names a board notification.
type Kind string

const (
	OutputChanged       Kind = "output_changed"
	PulseStarted        Kind = "pulse_started"
	PulseFinished       Kind = "pulse_finished"
	InputStateRequested Kind = "input_state_requested"
	TelemetryRequested  Kind = "telemetry_requested"
	AttributeRequested  Kind = "attribute_requested"
	InputChanged        Kind = "input_changed"
	GSMConnect          Kind = "gsm_connect"
	GSMDisconnect       Kind = "gsm_disconnect"
)

// Event is a fire-and-forget notification. Output is 1-based and zero when
// the event is not tied to a channel.
type Event struct {
	Kind      Kind      `json:"event"`
	Output    int       `json:"output,omitempty"`
	Input     int       `json:"input,omitempty"`
	Value     int       `json:"value"`
	Attribute int       `json:"attribute,omitempty"`
	Time      time.Time `json:"-"`
}

// MarshalJSON adds the event time as unix milliseconds.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	return json.Marshal(struct {
		plain
		TS int64 `json:"ts"`
	}{plain(e), e.Time.UnixMilli()})
}

const defaultQueueLen = 16

// Bus delivers events to subscribers without ever blocking the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
	qLen int
}

// NewBus creates a bus whose subscriptions buffer up to queueLen events.
func NewBus(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = defaultQueueLen
	}
	return &Bus{
		subs: make(map[*Subscription]struct{}),
		qLen: queueLen,
	}
}

// Subscribe registers interest in the given kinds, or in every kind when none
// are listed.
func (b *Bus) Subscribe(kinds ...Kind) *Subscription {
	s := &Subscription{
		bus: b,
		ch:  make(chan Event, b.qLen),
	}
	if len(kinds) > 0 {
		s.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = struct{}{}
		}
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Trigger delivers ev to every matching subscriber. A full queue loses its
// oldest event.
func (b *Bus) Trigger(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if !s.wants(ev.Kind) {
			continue
		}
		s.deliver(ev)
	}
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}

// Subscription is a bounded queue of events.
type Subscription struct {
	bus   *Bus
	kinds map[Kind]struct{}

	sendMu sync.Mutex
	ch     chan Event
}

// Channel is closed when the subscription is closed.
func (s *Subscription) Channel() <-chan Event { return s.ch }

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() { s.bus.remove(s) }

func (s *Subscription) wants(k Kind) bool {
	if s.kinds == nil {
		return true
	}
	_, ok := s.kinds[k]
	return ok
}

func (s *Subscription) deliver(ev Event) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		// drop oldest
		select {
		case <-s.ch:
		default:
		}
	}
}
