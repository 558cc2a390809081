package process

import (
	"os/exec"
	"strings"

	"github.com/loykin/offdoc/internal/logger"
)

// Defaults for the bundled Python backend layout.
const (
	DefaultName   = "backend"
	DefaultScript = "server.py"
	DefaultVenv   = "venv"
)

// Spec describes how to launch the backend.
// When Command is empty the platform default launches Script inside the Venv
// found under Root.
type Spec struct {
	Name    string        `json:"name" mapstructure:"name"`
	Root    string        `json:"root" mapstructure:"root"`       // backend root, used as working dir
	Command string        `json:"command" mapstructure:"command"` // optional override
	Script  string        `json:"script" mapstructure:"script"`
	Venv    string        `json:"venv" mapstructure:"venv"`
	Log     logger.Config `json:"log" mapstructure:"log"`
}

func (s Spec) name() string {
	if s.Name == "" {
		return DefaultName
	}
	return s.Name
}

func (s Spec) script() string {
	if s.Script == "" {
		return DefaultScript
	}
	return s.Script
}

func (s Spec) venv() string {
	if s.Venv == "" {
		return DefaultVenv
	}
	return s.Venv
}

// BuildCommand constructs the *exec.Cmd for this spec. An explicit Command
// avoids invoking a shell when not necessary, and respects an explicit shell
// invocation already present (e.g. "sh -c 'python server.py'").
func (s Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		return defaultCommand(s)
	}
	if afterC, ok := parseExplicitShell(cmdStr); ok {
		return getShellCommand(afterC)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return getShellCommand(cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// parseExplicitShell detects "sh -c <ARG>" style prefixes and returns ARG
// with one pair of surrounding quotes removed.
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		after, ok := strings.CutPrefix(trim, p)
		if !ok {
			continue
		}
		if n := len(after); n >= 2 {
			if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
				after = after[1 : n-1]
			}
		}
		return after, true
	}
	return "", false
}
