package process

import (
	"fmt"
	"time"
)

// State is the lifecycle state of the backend handle.
type State int

const (
	StateNotStarted State = iota
	StateStarting
	StateRunning
	StateExited
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Active reports whether the process is (about to be) alive.
func (s State) Active() bool { return s == StateStarting || s == StateRunning }

// Status is a read-only snapshot of the backend handle.
type Status struct {
	Name          string    `json:"name"`
	Command       string    `json:"command"`
	PID           int       `json:"pid"`
	StartUnix     int64     `json:"start_unix,omitempty"`
	State         State     `json:"state"`
	ExitCode      int       `json:"exit_code"`
	Reason        string    `json:"reason,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	StoppedAt     time.Time `json:"stopped_at"`
	StopRequested bool      `json:"stop_requested"`
}

// Uptime is the time the process ran (or has been running).
func (s Status) Uptime() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	if s.StoppedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.StoppedAt.Sub(s.StartedAt)
}
