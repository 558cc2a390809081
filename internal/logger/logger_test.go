package logger

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

func closeAll(cs ...io.WriteCloser) {
	for _, c := range cs {
		if c != nil {
			_ = c.Close()
		}
	}
}

func TestProcessWritersPaths(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name             string
		file             FileConfig
		wantOut, wantErr string
	}{
		{"dir derives both", FileConfig{Dir: dir}, filepath.Join(dir, "backend.stdout.log"), filepath.Join(dir, "backend.stderr.log")},
		{"explicit paths win", FileConfig{Dir: dir, StdoutPath: filepath.Join(dir, "o.log"), StderrPath: filepath.Join(dir, "e.log")}, filepath.Join(dir, "o.log"), filepath.Join(dir, "e.log")},
		{"stdout only", FileConfig{StdoutPath: filepath.Join(dir, "only-out.log")}, filepath.Join(dir, "only-out.log"), ""},
		{"stderr only", FileConfig{StderrPath: filepath.Join(dir, "only-err.log")}, "", filepath.Join(dir, "only-err.log")},
		{"nothing configured", FileConfig{}, "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outW, errW, err := Config{File: tc.file}.ProcessWriters("backend")
			require.NoError(t, err)
			defer closeAll(outW, errW)
			for _, w := range []struct {
				wc   io.WriteCloser
				path string
			}{{outW, tc.wantOut}, {errW, tc.wantErr}} {
				if w.path == "" {
					assert.Nil(t, w.wc)
					continue
				}
				require.NotNil(t, w.wc)
				_, err := w.wc.Write([]byte("line\n"))
				require.NoError(t, err)
				assert.FileExists(t, w.path)
			}
		})
	}
}

func TestProcessWritersRotation(t *testing.T) {
	dir := t.TempDir()
	outW, errW, _ := Config{File: FileConfig{Dir: dir}}.ProcessWriters("backend")
	defer closeAll(outW, errW)
	ol := outW.(*lj.Logger)
	assert.Equal(t, DefaultMaxSizeMB, ol.MaxSize)
	assert.Equal(t, DefaultMaxBackups, ol.MaxBackups)
	assert.Equal(t, DefaultMaxAgeDays, ol.MaxAge)

	custom := FileConfig{Dir: dir, MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}
	_, errW2, _ := Config{File: custom}.ProcessWriters("backend")
	defer closeAll(errW2)
	el := errW2.(*lj.Logger)
	assert.Equal(t, 1, el.MaxSize)
	assert.Equal(t, 9, el.MaxBackups)
	assert.Equal(t, 11, el.MaxAge)
	assert.True(t, el.Compress)
}

func TestProcessWriters_RequiresName(t *testing.T) {
	cfg := Config{File: FileConfig{Dir: t.TempDir()}}
	_, _, err := cfg.ProcessWriters("")
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel(LevelDebug))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, ParseLevel(LevelError))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestNewSloggerTo_JSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Slog: SlogConfig{Level: LevelWarn, Format: FormatJSON}}
	log := cfg.NewSloggerTo(&buf)
	log.Info("hidden")
	log.Warn("backend exited early", "code", 1)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "backend exited early", rec["msg"])
	assert.EqualValues(t, 1, rec["code"])
	_, hasTime := rec["time"]
	assert.False(t, hasTime, "time is dropped unless timestamps are enabled")
}

func TestNewSloggerTo_TextWithTimestamps(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Slog: SlogConfig{Level: LevelDebug, TimeStamps: true}}
	cfg.NewSloggerTo(&buf).Debug("probe", "available", false)
	out := buf.String()
	assert.Contains(t, out, "time=")
	assert.Contains(t, out, "msg=probe")
	assert.Contains(t, out, "available=false")
}

func TestNewSlogger_AppPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offdoc.log")
	cfg := Config{File: FileConfig{AppPath: path}}
	cfg.NewSlogger().Info("started")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "msg=started")
}

func TestColorTextHandler(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false)
	log := slog.New(h).With("component", "health").WithGroup("result")
	log.Error("unreachable", "code", 0)
	out := buf.String()
	assert.Contains(t, out, "ERROR")
	assert.Contains(t, out, "unreachable")
	assert.Contains(t, out, "component=health")
	assert.Contains(t, out, "result.code=0")
	assert.NotContains(t, out, "time=")
	_, ok := log.Handler().(*ColorTextHandler)
	assert.True(t, ok)
}
