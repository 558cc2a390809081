// Package supervisor launches the backend once, observes its exit and turns
// it into events. It never restarts on its own.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/offdoc/internal/env"
	"github.com/loykin/offdoc/internal/metrics"
	"github.com/loykin/offdoc/internal/process"
)

// ErrSpawn wraps every failure to create the backend OS process.
var ErrSpawn = errors.New("backend spawn failed")

const (
	DefaultStartupGrace = 10 * time.Second
	DefaultStopWait     = 5 * time.Second
)

// EventKind classifies supervisor events.
type EventKind int

const (
	EventStarted EventKind = iota
	// EventSpawnFailed is fatal: the executable is missing or unlaunchable.
	EventSpawnFailed
	// EventExitedEarly is advisory: a non-zero exit within the startup grace,
	// typically a backend from a prior session already holding the port.
	EventExitedEarly
	EventExited
	EventStopped
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventSpawnFailed:
		return "spawn_failed"
	case EventExitedEarly:
		return "exited_early"
	case EventExited:
		return "exited"
	case EventStopped:
		return "stopped"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

func (k EventKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Event is delivered to Options.OnEvent.
type Event struct {
	Kind   EventKind      `json:"kind"`
	Status process.Status `json:"status"`
	Err    string         `json:"error,omitempty"`
	At     time.Time      `json:"at"`
}

// Fatal reports whether the event requires user attention before retrying.
func (e Event) Fatal() bool { return e.Kind == EventSpawnFailed }

// Options configures a Supervisor.
type Options struct {
	Spec         process.Spec
	Env          *env.Env // nil inherits the OS environment unchanged
	StartupGrace time.Duration
	StopWait     time.Duration
	Logger       *slog.Logger
	// OnEvent receives every event. It runs on the supervisor's goroutines
	// and should return quickly.
	OnEvent func(Event)
	// Probe is the out-of-band liveness check run after an unexpected exit.
	// The health endpoint, not the exit code, decides whether the backend
	// is actually up.
	Probe func(ctx context.Context)
}

// Supervisor exclusively owns the backend handle.
type Supervisor struct {
	opts Options
	log  *slog.Logger

	// startMu serializes Start and Restart so only one launch is in flight.
	startMu sync.Mutex

	mu   sync.Mutex
	proc *process.Process
	ctx  context.Context
	last *Event
}

func New(opts Options) *Supervisor {
	if opts.StartupGrace <= 0 {
		opts.StartupGrace = DefaultStartupGrace
	}
	if opts.StopWait <= 0 {
		opts.StopWait = DefaultStopWait
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Supervisor{opts: opts, log: opts.Logger.With("component", "supervisor"), ctx: context.Background()}
}

// Start launches the backend and returns once it is spawned. ctx bounds
// the out-of-band probes triggered by later exits.
func (s *Supervisor) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	return s.start(ctx)
}

func (s *Supervisor) start(ctx context.Context) error {
	s.mu.Lock()
	if s.proc != nil && s.proc.Snapshot().State.Active() {
		s.mu.Unlock()
		return process.ErrAlreadyRunning
	}
	proc := process.New(s.opts.Spec, s.opts.Logger)
	s.proc = proc
	s.ctx = ctx
	s.mu.Unlock()

	var envs []string
	if s.opts.Env != nil {
		envs = s.opts.Env.Merge(nil)
	}
	// exit events are held until the start event went out
	gate := make(chan struct{})
	defer close(gate)
	onExit := func(st process.Status) {
		<-gate
		s.onExit(st)
	}
	if err := proc.Start(envs, onExit); err != nil {
		metrics.IncSpawnFailure()
		s.log.Error("backend spawn failed", "error", err)
		s.emit(Event{Kind: EventSpawnFailed, Status: proc.Snapshot(), Err: err.Error()})
		return fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	metrics.IncBackendStart()
	s.emit(Event{Kind: EventStarted, Status: proc.Snapshot()})
	return nil
}

func (s *Supervisor) onExit(st process.Status) {
	kind := EventExited
	switch {
	case st.StopRequested:
		kind = EventStopped
	case st.State == process.StateExited && st.ExitCode != 0 && st.Uptime() < s.opts.StartupGrace:
		kind = EventExitedEarly
	}
	metrics.IncBackendExit(kind.String())
	lvl := slog.LevelInfo
	if kind != EventStopped {
		lvl = slog.LevelWarn
	}
	s.log.Log(context.Background(), lvl, "backend exited", "kind", kind.String(), "code", st.ExitCode, "uptime", st.Uptime().Round(time.Millisecond))
	s.emit(Event{Kind: kind, Status: st})

	if kind == EventStopped || s.opts.Probe == nil {
		return
	}
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() == nil {
		s.opts.Probe(ctx)
	}
}

func (s *Supervisor) emit(e Event) {
	e.At = time.Now()
	s.mu.Lock()
	s.last = &e
	s.mu.Unlock()
	if s.opts.OnEvent != nil {
		s.opts.OnEvent(e)
	}
}

// Stop terminates the backend if running. Safe to call at any time,
// including before Start.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	if proc == nil {
		return nil
	}
	return proc.Stop(s.opts.StopWait)
}

// Restart is the user-initiated retry: Stop followed by Start.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if err := s.Stop(); err != nil {
		return fmt.Errorf("stop before restart: %w", err)
	}
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	if proc != nil {
		proc.Wait()
	}
	return s.start(ctx)
}

// Handle returns a read-only snapshot of the backend handle.
func (s *Supervisor) Handle() process.Status {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	if proc == nil {
		return process.New(s.opts.Spec, s.opts.Logger).Snapshot()
	}
	return proc.Snapshot()
}

// Alive double-checks the handle against the OS.
func (s *Supervisor) Alive() bool {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	return proc != nil && proc.DetectAlive()
}

// PID returns the backend pid while it is active, else 0.
func (s *Supervisor) PID() int32 {
	st := s.Handle()
	if !st.State.Active() {
		return 0
	}
	return int32(st.PID)
}

// LastEvent returns the most recent event, if any.
func (s *Supervisor) LastEvent() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Event{}, false
	}
	return *s.last, true
}
