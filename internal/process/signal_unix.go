//go:build !windows

package process

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the child in its own process group so the
// whole tree (bash, python and its workers) can be signalled together.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminate sends SIGTERM to the process group, falling back to the process.
func terminate(p *os.Process) error {
	if err := syscall.Kill(-p.Pid, syscall.SIGTERM); err == nil || !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return p.Signal(syscall.SIGTERM)
}

// kill sends SIGKILL to the process group, falling back to the process.
func kill(p *os.Process) error {
	if err := syscall.Kill(-p.Pid, syscall.SIGKILL); err == nil || !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return p.Kill()
}
