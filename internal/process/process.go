// Package process owns the backend child process: launching it with the
// platform command, forwarding its output and terminating its process group.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/loykin/offdoc/internal/detector"
)

// ErrAlreadyRunning is returned by Start while a previous launch is active.
var ErrAlreadyRunning = errors.New("backend already running")

const (
	// waitDelay bounds how long Wait blocks on output pipes held open by
	// grandchildren after the direct child exited.
	waitDelay = 2 * time.Second
	// killGrace is how long Stop waits for the exit after SIGKILL.
	killGrace = 2 * time.Second
)

// Process is the backend handle. All mutation happens inside this type;
// callers only read snapshots.
type Process struct {
	spec Spec
	log  *slog.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	status    Status
	waitDone  chan struct{} // closed after cmd.Wait returned and status is final
	outCloser io.WriteCloser
	errCloser io.WriteCloser
}

func New(spec Spec, log *slog.Logger) *Process {
	if log == nil {
		log = slog.Default()
	}
	return &Process{
		spec:   spec,
		log:    log.With("process", spec.name()),
		status: Status{Name: spec.name()},
	}
}

func (p *Process) Spec() Spec { return p.spec }

// Start spawns the backend and returns as soon as the OS process exists.
// env, when non-empty, replaces the inherited environment. onExit is called
// once from the waiter goroutine with the final status.
func (p *Process) Start(env []string, onExit func(Status)) error {
	p.mu.Lock()
	if p.status.State.Active() {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}

	cmd := p.spec.BuildCommand()
	if p.spec.Root != "" {
		cmd.Dir = p.spec.Root
	}
	if len(env) > 0 {
		cmd.Env = env
	}
	configureSysProcAttr(cmd)
	cmd.WaitDelay = waitDelay

	if dir := p.spec.Log.File.Dir; dir != "" {
		_ = os.MkdirAll(dir, 0o750)
	}
	outW, errW, _ := p.spec.Log.ProcessWriters(p.spec.name())
	stdout := newLineSink(p.log, "stdout", slog.LevelInfo, outW)
	stderr := newLineSink(p.log, "stderr", slog.LevelWarn, errW)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	p.status = Status{
		Name:      p.spec.name(),
		Command:   cmd.String(),
		State:     StateStarting,
		StartedAt: time.Now(),
	}
	if err := cmd.Start(); err != nil {
		closeQuietly(outW)
		closeQuietly(errW)
		p.status.State = StateFailed
		p.status.Reason = err.Error()
		p.status.StoppedAt = time.Now()
		p.mu.Unlock()
		return fmt.Errorf("spawn %s: %w", p.spec.name(), err)
	}

	done := make(chan struct{})
	p.cmd = cmd
	p.waitDone = done
	p.outCloser, p.errCloser = outW, errW
	p.status.PID = cmd.Process.Pid
	p.status.StartUnix = detector.ProcStartUnix(cmd.Process.Pid)
	p.status.State = StateRunning
	p.mu.Unlock()

	p.log.Info("backend spawned", "pid", cmd.Process.Pid, "cmd", cmd.String(), "dir", cmd.Dir)

	go func() {
		err := cmd.Wait()
		stdout.Flush()
		stderr.Flush()
		st := p.markExited(err)
		close(done)
		if onExit != nil {
			onExit(st)
		}
	}()
	return nil
}

func (p *Process) markExited(err error) Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.StoppedAt = time.Now()
	var ee *exec.ExitError
	switch {
	case err == nil:
		p.status.State = StateExited
		p.status.ExitCode = 0
	case errors.As(err, &ee):
		p.status.State = StateExited
		p.status.ExitCode = ee.ExitCode()
	case errors.Is(err, exec.ErrWaitDelay) && p.cmd.ProcessState != nil:
		p.status.State = StateExited
		p.status.ExitCode = p.cmd.ProcessState.ExitCode()
	default:
		p.status.State = StateFailed
		p.status.Reason = err.Error()
	}
	closeQuietly(p.outCloser)
	closeQuietly(p.errCloser)
	p.outCloser, p.errCloser = nil, nil
	return p.status
}

// Stop terminates the process group and waits up to wait before escalating
// to a kill. Stopping a handle that is not running is a no-op.
func (p *Process) Stop(wait time.Duration) error {
	p.mu.Lock()
	if p.cmd == nil || !p.status.State.Active() {
		p.mu.Unlock()
		return nil
	}
	p.status.StopRequested = true
	proc := p.cmd.Process
	done := p.waitDone
	p.mu.Unlock()

	if err := terminate(proc); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.log.Debug("terminate failed", "pid", proc.Pid, "error", err)
	}
	select {
	case <-done:
		return nil
	case <-time.After(wait):
	}
	p.log.Warn("backend did not exit after terminate, killing", "pid", proc.Pid, "wait", wait)
	_ = kill(proc)
	select {
	case <-done:
		return nil
	case <-time.After(killGrace):
		return fmt.Errorf("backend pid %d did not exit after kill", proc.Pid)
	}
}

// Wait blocks until the current launch has exited. It returns immediately
// when nothing was started.
func (p *Process) Wait() Status {
	p.mu.Lock()
	done := p.waitDone
	p.mu.Unlock()
	if done != nil {
		<-done
	}
	return p.Snapshot()
}

// Snapshot returns a copy of the current status.
func (p *Process) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// DetectAlive double-checks an active handle against the OS, guarding
// against pid reuse with the recorded start time.
func (p *Process) DetectAlive() bool {
	st := p.Snapshot()
	if !st.State.Active() {
		return false
	}
	ok, _ := detector.PIDDetector{PID: st.PID, StartUnix: st.StartUnix}.Alive(context.Background())
	return ok
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
