//go:build !windows

package process

import (
	"fmt"
	"os/exec"
	"strings"
)

// defaultCommand activates the virtual environment and runs the script
// through bash.
func defaultCommand(s Spec) *exec.Cmd {
	script := fmt.Sprintf("cd %s && source %s/bin/activate && python %s",
		shellQuote(s.Root), shellQuote(s.venv()), shellQuote(s.script()))
	// #nosec G204
	return exec.Command("bash", "-c", script)
}

func shellQuote(v string) string {
	if v == "" {
		return "."
	}
	return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'"
}
