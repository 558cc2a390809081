// Package detector probes whether external programs are present and alive:
// the model runtime CLI and the supervised backend pid.
package detector

import "context"

// Detector is a strategy that determines if something is running.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the target is detected as running. A nil error
	// with false means "checked and not running".
	Alive(ctx context.Context) (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}
