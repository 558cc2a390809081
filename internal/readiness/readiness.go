// Package readiness derives the application-wide readiness from the latest
// runtime probe, health check and backend handle state.
package readiness

import (
	"fmt"

	"github.com/loykin/offdoc/internal/detector"
	"github.com/loykin/offdoc/internal/health"
	"github.com/loykin/offdoc/internal/process"
)

// State is the aggregated readiness.
type State int

const (
	Unknown State = iota
	Ready
	Degraded
	Unavailable
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Degraded:
		return "degraded"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Inputs is the latest snapshot of every signal. Nil pointers mean the
// signal has not produced a result yet.
type Inputs struct {
	Runtime *detector.RuntimeAvailability `json:"runtime,omitempty"`
	Health  *health.Result                `json:"health,omitempty"`
	Process process.State                 `json:"process"`
}

// Evaluate is a pure function of in.
//
//	runtime or health not observed           -> Unknown
//	runtime available and health reachable   -> Ready
//	process starting or running              -> Degraded
//	health reachable (runtime down)          -> Degraded
//	otherwise                                -> Unavailable
func Evaluate(in Inputs) State {
	if in.Runtime == nil || in.Health == nil || !in.Health.Observed() {
		return Unknown
	}
	reachable := in.Health.Status == health.Reachable
	switch {
	case in.Runtime.Available && reachable:
		return Ready
	case in.Process.Active():
		return Degraded
	case reachable:
		return Degraded
	default:
		return Unavailable
	}
}

// Explain returns a short operator-facing reason for the state Evaluate
// yields on in.
func Explain(in Inputs) string {
	switch Evaluate(in) {
	case Unknown:
		return "waiting for first runtime probe and health check"
	case Ready:
		return "backend reachable and model runtime available"
	case Degraded:
		if in.Health.Status != health.Reachable {
			return fmt.Sprintf("backend %s, health %s", in.Process, in.Health.Status)
		}
		return "model runtime unavailable"
	default:
		return fmt.Sprintf("backend %s, health %s", in.Process, in.Health.Status)
	}
}
