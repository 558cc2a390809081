package backend

import (
	"context"
	"log/slog"
	"time"

	"github.com/loykin/offdoc/internal/process"
)

// DefaultServeWait bounds how long Boot waits for a runtime it launched.
const DefaultServeWait = 3 * time.Second

const servePoll = 200 * time.Millisecond

// BootOptions controls the steps run before the backend serves requests.
type BootOptions struct {
	// StartRuntime launches ServeCommand when the runtime does not answer.
	StartRuntime bool
	ServeCommand string
	ServeWait    time.Duration
	Model        string
	Logger       *slog.Logger
}

// BootResult reports what Boot did. Runtime is the runtime process Boot
// launched, nil when it was already up or not launched; the caller owns it.
type BootResult struct {
	Runtime        *process.Process
	RuntimeRunning bool
	ModelReady     bool
}

// Boot makes sure the runtime answers, launching it when allowed, and then
// makes sure the model is installed. Failures are logged; the backend still
// serves and answers with its fixed replies.
func Boot(ctx context.Context, rt Runtime, opts BootOptions) BootResult {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	var res BootResult

	if err := rt.CheckRunning(ctx); err == nil {
		log.Info("model runtime already running")
		res.RuntimeRunning = true
	} else if opts.StartRuntime && opts.ServeCommand != "" {
		res.Runtime, res.RuntimeRunning = startRuntime(ctx, rt, opts, log)
	} else {
		log.Warn("model runtime not reachable; replies will fall back", "error", err)
	}

	log.Info("ensuring model is available", "model", opts.Model)
	if err := rt.EnsureModel(ctx, opts.Model); err != nil {
		log.Error("model not available", "model", opts.Model, "error", err)
	} else {
		res.ModelReady = true
	}
	return res
}

func startRuntime(ctx context.Context, rt Runtime, opts BootOptions, log *slog.Logger) (*process.Process, bool) {
	log.Info("starting model runtime", "cmd", opts.ServeCommand)
	proc := process.New(process.Spec{Name: "runtime", Command: opts.ServeCommand}, log)
	if err := proc.Start(nil, nil); err != nil {
		log.Error("could not start model runtime", "error", err)
		return nil, false
	}

	wait := opts.ServeWait
	if wait <= 0 {
		wait = DefaultServeWait
	}
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	tick := time.NewTicker(servePoll)
	defer tick.Stop()
	for {
		if rt.CheckRunning(ctx) == nil {
			log.Info("model runtime started", "pid", proc.Snapshot().PID)
			return proc, true
		}
		select {
		case <-ctx.Done():
			return proc, false
		case <-deadline.C:
			log.Warn("model runtime did not come up; some features may not work", "wait", wait)
			return proc, false
		case <-tick.C:
		}
	}
}
