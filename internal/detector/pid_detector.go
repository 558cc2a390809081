package detector

import (
	"context"
	"fmt"
)

// PIDDetector detects by a pid number. When StartUnix is set, a process with
// the same pid but a different start time is treated as a reused pid.
type PIDDetector struct {
	PID       int
	StartUnix int64
}

func (d PIDDetector) Alive(_ context.Context) (bool, error) {
	if d.PID <= 0 {
		return false, nil
	}
	if d.StartUnix > 0 {
		if cur := ProcStartUnix(d.PID); cur > 0 && cur != d.StartUnix {
			return false, nil
		}
	}
	return pidAlive(d.PID), nil
}

func (d PIDDetector) Describe() string { return fmt.Sprintf("pid:%d", d.PID) }
