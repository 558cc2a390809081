package detector

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// waitDelay bounds how long Wait blocks on inherited pipes after the probe
// command was killed.
const waitDelay = time.Second

// CommandDetector runs a command that should exit 0 if the target is up.
// When Args is empty, Command is parsed as a command line.
type CommandDetector struct {
	Command string
	Args    []string
}

// buildShellAwareCommand constructs an *exec.Cmd for a detector command line.
// Avoids invoking a shell unless obvious shell metacharacters are present (G204 mitigation).
func buildShellAwareCommand(ctx context.Context, cmdStr string) *exec.Cmd {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		return getTrueCommand(ctx)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return getShellCommand(ctx, cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.CommandContext(ctx, parts[0], parts[1:]...)
}

func (d CommandDetector) command(ctx context.Context) *exec.Cmd {
	if len(d.Args) > 0 {
		// #nosec G204
		return exec.CommandContext(ctx, d.Command, d.Args...)
	}
	return buildShellAwareCommand(ctx, d.Command)
}

// Alive runs the command to completion. A non-zero exit is (false, nil);
// a command that cannot be launched or is cancelled by ctx is an error.
func (d CommandDetector) Alive(ctx context.Context) (bool, error) {
	cmd := d.command(ctx)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.WaitDelay = waitDelay
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return false, nil
	}
	return false, err
}

// Output runs the command and returns its trimmed stdout.
func (d CommandDetector) Output(ctx context.Context) (string, error) {
	cmd := d.command(ctx)
	cmd.WaitDelay = waitDelay
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (d CommandDetector) Describe() string {
	if len(d.Args) > 0 {
		return "cmd:" + d.Command + " " + strings.Join(d.Args, " ")
	}
	return "cmd:" + d.Command
}
