package lifecycle

import (
	"errors"
	"sync"
	"time"

	"github.com/kilianp07/ridesync/core/logger"
	"github.com/kilianp07/ridesync/core/metrics"
	"github.com/kilianp07/ridesync/internal/eventbus"
)

// Transition describes one applied event.
type Transition struct {
	From  State
	To    State
	Event Event
	At    time.Time
}

// Changed reports whether the state moved.
func (t Transition) Changed() bool { return t.From != t.To }

// Machine owns the lifecycle state. Submit serializes every transition so
// local commands and server events never interleave.
type Machine struct {
	log     logger.Logger
	metrics metrics.TransitionRecorder
	now     func() time.Time

	// submitMu is held for the whole of Submit, publication included.
	submitMu    sync.Mutex
	mu          sync.RWMutex
	state       State
	states      *eventbus.Subject[State]
	transitions *eventbus.TypedBus[Transition]
}

// NewMachine returns a machine in Idle. rec may be nil.
func NewMachine(log logger.Logger, rec metrics.TransitionRecorder) *Machine {
	if rec == nil {
		rec = metrics.NopSink{}
	}
	return &Machine{
		log:         logger.Nop(log),
		metrics:     rec,
		now:         time.Now,
		state:       Idle{},
		states:      eventbus.NewSubject[State](Idle{}),
		transitions: eventbus.NewTyped[Transition](),
	}
}

// Current returns the state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Submit applies ev. Stale server events return ErrStaleEvent and leave the
// state untouched.
func (m *Machine) Submit(ev Event) (Transition, error) {
	m.submitMu.Lock()
	defer m.submitMu.Unlock()

	now := m.now()
	from := m.Current()
	to, err := Next(from, ev, now)
	tr := Transition{From: from, To: to, Event: ev, At: now}
	if err != nil {
		if errors.Is(err, ErrStaleEvent) {
			m.log.Debugf("dropping %v", err)
		}
		return tr, err
	}
	if !tr.Changed() {
		return tr, nil
	}

	m.mu.Lock()
	m.state = to
	m.mu.Unlock()

	m.log.Infof("lifecycle %s -> %s on %s", from.Name(), to.Name(), ev.EventName())
	_ = m.metrics.RecordTransition(metrics.TransitionEvent{
		From:  from.Name(),
		To:    to.Name(),
		Cause: ev.EventName(),
		Time:  now,
	})
	m.states.Set(to)
	m.transitions.Publish(tr)
	return tr, nil
}

// Reset returns to Idle, as on driver offline or logout.
func (m *Machine) Reset() {
	_, _ = m.Submit(GoOffline{})
}

// OnChange registers cb for every state change. Callbacks run synchronously
// inside Submit and must not call Submit.
func (m *Machine) OnChange(cb func(State)) (unsubscribe func()) {
	return m.states.Observe(cb)
}

// Subscribe returns a channel of applied transitions.
func (m *Machine) Subscribe() <-chan Transition { return m.transitions.Subscribe() }

// Unsubscribe releases a channel returned by Subscribe.
func (m *Machine) Unsubscribe(ch <-chan Transition) { m.transitions.Unsubscribe(ch) }
