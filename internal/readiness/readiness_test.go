package readiness

import (
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/offdoc/internal/detector"
	"github.com/loykin/offdoc/internal/health"
	"github.com/loykin/offdoc/internal/process"
)

func rt(ok bool) *detector.RuntimeAvailability {
	return &detector.RuntimeAvailability{Available: ok, CheckedAt: time.Now()}
}

func hs(s health.Status) *health.Result {
	return &health.Result{Status: s, CheckedAt: time.Now()}
}

var (
	allProcess = []process.State{process.StateNotStarted, process.StateStarting, process.StateRunning, process.StateExited, process.StateFailed}
	allHealth  = []health.Status{health.Reachable, health.Unreachable, health.TimedOut}
)

func TestEvaluateTable(t *testing.T) {
	tests := []struct {
		name string
		in   Inputs
		want State
	}{
		{"nothing observed", Inputs{}, Unknown},
		{"only runtime", Inputs{Runtime: rt(true)}, Unknown},
		{"only health", Inputs{Health: hs(health.Reachable)}, Unknown},
		{"unknown health result", Inputs{Runtime: rt(true), Health: hs(health.Unknown)}, Unknown},
		{"all good", Inputs{Runtime: rt(true), Health: hs(health.Reachable), Process: process.StateRunning}, Ready},
		{"starting up", Inputs{Runtime: rt(true), Health: hs(health.Unreachable), Process: process.StateStarting}, Degraded},
		{"running but runtime down", Inputs{Runtime: rt(false), Health: hs(health.Reachable), Process: process.StateRunning}, Degraded},
		{"prior session backend", Inputs{Runtime: rt(false), Health: hs(health.Reachable), Process: process.StateExited}, Degraded},
		{"exited and unreachable", Inputs{Runtime: rt(false), Health: hs(health.Unreachable), Process: process.StateExited}, Unavailable},
		{"failed and timed out", Inputs{Runtime: rt(true), Health: hs(health.TimedOut), Process: process.StateFailed}, Unavailable},
		{"never started", Inputs{Runtime: rt(true), Health: hs(health.Unreachable)}, Unavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.in))
			assert.NotEmpty(t, Explain(tt.in))
		})
	}
}

func TestReadyRegardlessOfProcess(t *testing.T) {
	for _, p := range allProcess {
		assert.Equal(t, Ready, Evaluate(Inputs{Runtime: rt(true), Health: hs(health.Reachable), Process: p}), p.String())
	}
}

func TestExitedUnreachableRuntimeDownIsUnavailable(t *testing.T) {
	got := Evaluate(Inputs{Runtime: rt(false), Health: hs(health.Unreachable), Process: process.StateExited})
	assert.Equal(t, Unavailable, got)
}

// Replaying any sequence of inputs leaves the machine in the state of the
// latest pair only.
func TestMachineDependsOnLatestInputsOnly(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	m := NewMachine()
	for i := 0; i < 500; i++ {
		avail := r.IntN(2) == 0
		hst := allHealth[r.IntN(len(allHealth))]
		ps := allProcess[r.IntN(len(allProcess))]

		m.SetProcess(ps)
		m.SetRuntime(detector.RuntimeAvailability{Available: avail})
		first := m.SetHealth(health.Result{Status: hst}).State
		// replay the same pair
		m.SetRuntime(detector.RuntimeAvailability{Available: avail})
		second := m.SetHealth(health.Result{Status: hst}).State

		want := Evaluate(Inputs{Runtime: rt(avail), Health: hs(hst), Process: ps})
		require.Equal(t, want, first)
		require.Equal(t, first, second)
	}
}

func TestMachineStaysUnknownUntilBothInputs(t *testing.T) {
	m := NewMachine()
	assert.Equal(t, Unknown, m.State())
	m.SetProcess(process.StateRunning)
	assert.Equal(t, Unknown, m.SetRuntime(detector.RuntimeAvailability{Available: true}).State)
	assert.Equal(t, Unknown, m.SetHealth(health.Result{Status: health.Unknown}).State, "unknown results are ignored")
	assert.Equal(t, Ready, m.SetHealth(health.Result{Status: health.Reachable}).State)
}

func TestMachineNotifiesOnChangeOnly(t *testing.T) {
	m := NewMachine()
	var mu sync.Mutex
	var got []State
	cancel := m.Subscribe(func(s Snapshot) {
		mu.Lock()
		got = append(got, s.State)
		mu.Unlock()
	})

	m.SetProcess(process.StateStarting)
	m.SetRuntime(detector.RuntimeAvailability{Available: true})
	m.SetHealth(health.Result{Status: health.Unreachable}) // Degraded
	m.SetHealth(health.Result{Status: health.TimedOut})    // still Degraded
	m.SetHealth(health.Result{Status: health.Reachable})   // Ready
	m.SetProcess(process.StateExited)                      // still Ready
	cancel()
	m.SetHealth(health.Result{Status: health.Unreachable}) // Unavailable, not delivered

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{Degraded, Ready}, got)
	assert.Equal(t, Unavailable, m.State())
}

func TestObserveRecomputesOnce(t *testing.T) {
	m := NewMachine()
	running := process.StateRunning
	m.Observe(Observation{
		Process: &running,
		Runtime: &detector.RuntimeAvailability{Available: true},
		Health:  &health.Result{Status: health.Reachable},
	})
	require.Equal(t, Ready, m.State())

	var got []State
	m.Subscribe(func(s Snapshot) { got = append(got, s.State) })

	exited := process.StateExited
	snap := m.Observe(Observation{
		Process: &exited,
		Runtime: &detector.RuntimeAvailability{Available: false},
		Health:  &health.Result{Status: health.Unreachable},
	})
	assert.Equal(t, Unavailable, snap.State)
	assert.Equal(t, []State{Unavailable}, got, "no intermediate state is published")

	// unknown health and nil fields keep the previous inputs
	snap = m.Observe(Observation{Health: &health.Result{Status: health.Unknown}})
	assert.Equal(t, Unavailable, snap.State)
	require.NotNil(t, snap.Inputs.Health)
	assert.Equal(t, health.Unreachable, snap.Inputs.Health.Status)
	assert.Equal(t, process.StateExited, snap.Inputs.Process)
}

func TestSubscribersSeeChangesInOrder(t *testing.T) {
	m := NewMachine()
	var mu sync.Mutex
	var last *Snapshot
	m.Subscribe(func(s Snapshot) {
		mu.Lock()
		last = &s
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed uint64) {
			defer wg.Done()
			r := rand.New(rand.NewPCG(seed, seed+1))
			for i := 0; i < 200; i++ {
				ps := allProcess[r.IntN(len(allProcess))]
				m.Observe(Observation{
					Process: &ps,
					Runtime: &detector.RuntimeAvailability{Available: r.IntN(2) == 0},
					Health:  &health.Result{Status: allHealth[r.IntN(len(allHealth))]},
				})
			}
		}(uint64(g))
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, last)
	assert.Equal(t, m.State(), last.State, "the last delivered change is the current state")
}

func TestSnapshotIsACopy(t *testing.T) {
	m := NewMachine()
	m.SetRuntime(detector.RuntimeAvailability{Available: true})
	m.SetHealth(health.Result{Status: health.Reachable, Code: 200})
	s := m.Snapshot()
	require.NotNil(t, s.Inputs.Health)
	s.Inputs.Health.Status = health.Unreachable
	assert.Equal(t, health.Reachable, m.Snapshot().Inputs.Health.Status)
	assert.Equal(t, "backend reachable and model runtime available", m.Snapshot().Reason)
	assert.False(t, s.Since.IsZero())
}

func TestStateText(t *testing.T) {
	b, _ := Degraded.MarshalText()
	assert.Equal(t, "degraded", string(b))
	assert.Equal(t, "unknown", State(9).String())
}
