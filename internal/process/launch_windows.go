//go:build windows

package process

import (
	"os/exec"
	"path/filepath"
)

// defaultCommand runs the script with the interpreter of the virtual
// environment directly.
func defaultCommand(s Spec) *exec.Cmd {
	python := filepath.Join(s.Root, s.venv(), "Scripts", "python.exe")
	// #nosec G204
	return exec.Command(python, filepath.Join(s.Root, s.script()))
}
