package detector

import (
	"context"
	"os"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func TestBuildShellAwareCommand(t *testing.T) {
	requireUnix(t)
	ctx := context.Background()
	// empty -> /bin/true
	c := buildShellAwareCommand(ctx, "")
	assert.Contains(t, c.String(), "/bin/true")
	// simple no metachar -> direct exec
	c = buildShellAwareCommand(ctx, "ollama list")
	require.NotEmpty(t, c.Args)
	assert.Equal(t, []string{"ollama", "list"}, c.Args)
	// with shell meta -> sh -c
	c = buildShellAwareCommand(ctx, "ollama list | head -1")
	require.GreaterOrEqual(t, len(c.Args), 2)
	assert.Equal(t, "/bin/sh", c.Args[0])
	assert.Equal(t, "-c", c.Args[1])
}

func TestCommandDetectorAliveAndDescribe(t *testing.T) {
	requireUnix(t)
	ctx := context.Background()

	d := CommandDetector{Command: "true"}
	alive, err := d.Alive(ctx)
	require.NoError(t, err)
	assert.True(t, alive)
	assert.Equal(t, "cmd:true", d.Describe())

	d = CommandDetector{Command: "sh", Args: []string{"-c", "exit 3"}}
	alive, err = d.Alive(ctx)
	require.NoError(t, err)
	assert.False(t, alive)
	assert.Equal(t, "cmd:sh -c exit 3", d.Describe())

	d = CommandDetector{Command: "__definitely_not_exists__"}
	alive, err = d.Alive(ctx)
	assert.Error(t, err)
	assert.False(t, alive)
}

func TestCommandDetectorHonorsContext(t *testing.T) {
	requireUnix(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	alive, err := CommandDetector{Command: "sleep", Args: []string{"10"}}.Alive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, alive)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestCommandDetectorOutput(t *testing.T) {
	requireUnix(t)
	out, err := CommandDetector{Command: "echo", Args: []string{" ollama version 0.3.12 "}}.Output(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ollama version 0.3.12", out)
}

func TestPIDDetector(t *testing.T) {
	requireUnix(t)
	ctx := context.Background()
	alive, err := PIDDetector{PID: 0}.Alive(ctx)
	require.NoError(t, err)
	assert.False(t, alive)

	self := os.Getpid()
	alive, err = PIDDetector{PID: self}.Alive(ctx)
	require.NoError(t, err)
	assert.True(t, alive)

	start := ProcStartUnix(self)
	if start > 0 {
		alive, _ = PIDDetector{PID: self, StartUnix: start}.Alive(ctx)
		assert.True(t, alive)
		alive, _ = PIDDetector{PID: self, StartUnix: start - 3600}.Alive(ctx)
		assert.False(t, alive, "a different start time means the pid was reused")
	}
	assert.True(t, strings.HasPrefix(PIDDetector{PID: self}.Describe(), "pid:"))
}
