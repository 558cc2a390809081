package readiness

import (
	"sync"
	"time"

	"github.com/loykin/offdoc/internal/detector"
	"github.com/loykin/offdoc/internal/health"
	"github.com/loykin/offdoc/internal/metrics"
	"github.com/loykin/offdoc/internal/process"
)

// Snapshot is what subscribers and the interface layer read.
type Snapshot struct {
	State  State     `json:"state"`
	Reason string    `json:"reason"`
	Inputs Inputs    `json:"inputs"`
	Since  time.Time `json:"since"`
}

// Machine keeps the latest inputs (last write wins) and recomputes the state
// from scratch on every update. It has no timers; callers schedule probes.
type Machine struct {
	// notify serializes updates with their deliveries so subscribers see
	// changes in the order they were computed.
	notify sync.Mutex
	mu     sync.Mutex
	in     Inputs
	state  State
	since  time.Time
	subs   map[int]func(Snapshot)
	nextID int
	now    func() time.Time
}

func NewMachine() *Machine {
	return &Machine{
		since: time.Now(),
		subs:  make(map[int]func(Snapshot)),
		now:   time.Now,
	}
}

// SetRuntime records a runtime probe result.
func (m *Machine) SetRuntime(a detector.RuntimeAvailability) Snapshot {
	return m.update(func(in *Inputs) { in.Runtime = &a })
}

// SetHealth records a health check result. Unknown results carry no
// observation and are ignored.
func (m *Machine) SetHealth(r health.Result) Snapshot {
	if !r.Observed() {
		return m.Snapshot()
	}
	return m.update(func(in *Inputs) { in.Health = &r })
}

// SetProcess records the backend handle state.
func (m *Machine) SetProcess(s process.State) Snapshot {
	return m.update(func(in *Inputs) { in.Process = s })
}

// Observation is one round of probe results. Nil fields leave the matching
// input as it was.
type Observation struct {
	Runtime *detector.RuntimeAvailability
	Health  *health.Result
	Process *process.State
}

// Observe applies every field of o and recomputes once, so subscribers never
// see a state derived from a mix of this round and the previous one.
func (m *Machine) Observe(o Observation) Snapshot {
	return m.update(func(in *Inputs) {
		if o.Process != nil {
			in.Process = *o.Process
		}
		if o.Runtime != nil {
			r := *o.Runtime
			in.Runtime = &r
		}
		if o.Health != nil && o.Health.Observed() {
			h := *o.Health
			in.Health = &h
		}
	})
}

func (m *Machine) update(apply func(*Inputs)) Snapshot {
	m.notify.Lock()
	defer m.notify.Unlock()

	m.mu.Lock()
	apply(&m.in)
	next := Evaluate(m.in)
	prev := m.state
	changed := next != prev
	if changed {
		m.state = next
		m.since = m.now()
	}
	snap := m.snapshotLocked()
	var subs []func(Snapshot)
	if changed {
		subs = make([]func(Snapshot), 0, len(m.subs))
		for _, fn := range m.subs {
			subs = append(subs, fn)
		}
	}
	m.mu.Unlock()

	if changed {
		metrics.RecordReadiness(prev.String(), next.String())
		for _, fn := range subs {
			fn(snap)
		}
	}
	return snap
}

// Snapshot returns the current state with the inputs it was derived from.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	in := m.in
	if in.Runtime != nil {
		r := *in.Runtime
		in.Runtime = &r
	}
	if in.Health != nil {
		h := *in.Health
		in.Health = &h
	}
	return Snapshot{State: m.state, Reason: Explain(in), Inputs: in, Since: m.since}
}

// State is a shorthand for Snapshot().State.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers fn to be called after every state change. fn runs on
// the updating goroutine and must not call back into the Machine's setters.
// The returned func removes the subscription.
func (m *Machine) Subscribe(fn func(Snapshot)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}
