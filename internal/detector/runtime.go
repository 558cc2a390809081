package detector

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os/exec"
	"time"

	"github.com/loykin/offdoc/internal/metrics"
)

// Defaults for the model runtime probe.
const (
	DefaultRuntimeBinary  = "ollama"
	DefaultRuntimeTimeout = 5 * time.Second
)

// Details reported for an unavailable runtime.
const (
	DetailNonZero      = "runtime command exited non-zero"
	DetailTimedOut     = "runtime command timed out"
	DetailNotInstalled = "runtime not installed"
)

// DefaultRuntimeArgs is the no-op command run against the runtime CLI.
var DefaultRuntimeArgs = []string{"list"}

// RuntimeAvailability is the immutable result of one probe.
type RuntimeAvailability struct {
	Available bool      `json:"available"`
	CheckedAt time.Time `json:"checked_at"`
	Detail    string    `json:"detail,omitempty"`
}

// RuntimeProbe checks whether the local model runtime CLI is installed and
// answers. A missing binary or a hung invocation is reported as unavailable.
type RuntimeProbe struct {
	Binary  string
	Args    []string
	Timeout time.Duration
	Logger  *slog.Logger

	now func() time.Time
}

// NewRuntimeProbe returns a probe for the given binary; zero values fall back
// to `ollama list` with a 5s bound.
func NewRuntimeProbe(binary string, args []string, timeout time.Duration, log *slog.Logger) *RuntimeProbe {
	if binary == "" {
		binary = DefaultRuntimeBinary
	}
	if len(args) == 0 {
		args = DefaultRuntimeArgs
	}
	if timeout <= 0 {
		timeout = DefaultRuntimeTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &RuntimeProbe{Binary: binary, Args: args, Timeout: timeout, Logger: log, now: time.Now}
}

func (p *RuntimeProbe) detector() CommandDetector {
	return CommandDetector{Command: p.Binary, Args: p.Args}
}

// Probe runs the runtime CLI once. It never returns an error: every failure
// mode maps to Available=false with a short detail.
func (p *RuntimeProbe) Probe(ctx context.Context) RuntimeAvailability {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	d := p.detector()
	ok, err := d.Alive(ctx)
	res := RuntimeAvailability{Available: ok, CheckedAt: p.now()}
	switch {
	case err == nil && ok:
	case err == nil:
		res.Detail = DetailNonZero
	case errors.Is(err, context.DeadlineExceeded):
		res.Detail = DetailTimedOut
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		res.Detail = DetailNotInstalled
	default:
		res.Detail = err.Error()
	}
	p.Logger.Debug("runtime probe", "cmd", d.Describe(), "available", res.Available, "detail", res.Detail)
	metrics.ObserveRuntimeProbe(res.Available)
	return res
}

// ProbeAsync runs Probe in its own goroutine; the channel receives exactly
// one value and is then closed.
func (p *RuntimeProbe) ProbeAsync(ctx context.Context) <-chan RuntimeAvailability {
	ch := make(chan RuntimeAvailability, 1)
	go func() {
		defer close(ch)
		ch <- p.Probe(ctx)
	}()
	return ch
}

// Version returns the runtime's `--version` output.
func (p *RuntimeProbe) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	return CommandDetector{Command: p.Binary, Args: []string{"--version"}}.Output(ctx)
}
