package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/offdoc/internal/app"
	"github.com/loykin/offdoc/internal/chat"
	"github.com/loykin/offdoc/internal/config"
	"github.com/loykin/offdoc/internal/history"
	"github.com/loykin/offdoc/internal/medication"
	"github.com/loykin/offdoc/internal/server"
	"github.com/loykin/offdoc/internal/settings"
	"github.com/loykin/offdoc/internal/store"
)

type fakeBackend struct {
	*httptest.Server
	mu     sync.Mutex
	bodies map[string]map[string]any
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{bodies: make(map[string]map[string]any)}
	fb.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			_, _ = w.Write([]byte(`{"status":"healthy","ollama_available":true}`))
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		fb.mu.Lock()
		fb.bodies[r.URL.Path] = body
		fb.mu.Unlock()
		_, _ = fmt.Fprintf(w, `{"response":"answer from %s"}`, r.URL.Path)
	}))
	t.Cleanup(fb.Close)
	return fb
}

func (fb *fakeBackend) body(path string) map[string]any {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.bodies[path]
}

func closedURL(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return "http://" + addr
}

// writeConfig writes a config pointing the store at a temp SQLite file and
// the backend at baseURL. The runtime binary never exists.
func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`
[backend]
autostart = false

[runtime]
binary = "offdoc-test-no-such-runtime"
timeout = "1s"

[health]
url = '%s/health'
timeout = "1s"
schedule = ""

[chat]
base_url = '%s'
timeout = "2s"
fallback_policy = "first"

[store]
dsn = 'sqlite://%s'

[metrics]
enabled = false

[log.slog]
level = "error"
`, baseURL, baseURL, filepath.Join(dir, "offdoc.db"))
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func run(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := buildRoot(&out)
	if cfgPath != "" {
		args = append([]string{"--config", cfgPath}, args...)
	}
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHelp(t *testing.T) {
	out, err := run(t, "", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "offdoc")
	assert.Contains(t, out, "symptoms")
}

func TestVersion(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "offdoc "+version+"\n", out)
}

func TestChatUsesBackend(t *testing.T) {
	fb := newFakeBackend(t)
	cfg := writeConfig(t, fb.URL)

	out, err := run(t, cfg, "chat", "I", "have", "a", "headache")
	require.NoError(t, err)
	assert.Equal(t, "answer from /consultation\n", out)
	assert.Equal(t, "I have a headache", fb.body("/consultation")["message"])

	out, err = run(t, cfg, "history")
	require.NoError(t, err)
	var recs []history.Record
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, history.TypeConsultation, recs[0].Type)
	assert.Equal(t, "I have a headache", recs[0].UserMessage)
	assert.Equal(t, "answer from /consultation", recs[0].AIResponse)
}

func TestChatFallsBackWhenBackendDown(t *testing.T) {
	cfg := writeConfig(t, closedURL(t))

	out, err := run(t, cfg, "chat", "hello")
	require.NoError(t, err)
	assert.Equal(t, chat.Fallbacks[0]+"\n", out)
}

func TestChatRejectsBlankMessage(t *testing.T) {
	cfg := writeConfig(t, closedURL(t))
	_, err := run(t, cfg, "chat", "   ")
	require.ErrorIs(t, err, chat.ErrEmptyMessage)

	_, err = run(t, cfg, "chat")
	require.Error(t, err, "missing argument")
}

func TestSymptomsSplitsList(t *testing.T) {
	fb := newFakeBackend(t)
	cfg := writeConfig(t, fb.URL)

	out, err := run(t, cfg, "symptoms", "fever, cough", "sore throat")
	require.NoError(t, err)
	assert.Equal(t, "answer from /analyze-symptoms\n", out)
	assert.Equal(t, []any{"fever", "cough", "sore throat"}, fb.body("/analyze-symptoms")["symptoms"])
}

func TestMedsLifecycle(t *testing.T) {
	fb := newFakeBackend(t)
	cfg := writeConfig(t, fb.URL)

	out, err := run(t, cfg, "meds", "list")
	require.NoError(t, err)
	assert.Equal(t, "No medications saved.\n", out)

	_, err = run(t, cfg, "meds", "interactions")
	require.ErrorIs(t, err, app.ErrTooFewMedications)

	out, err = run(t, cfg, "meds", "add", "Ibuprofen")
	require.NoError(t, err)
	assert.Equal(t, "Added Ibuprofen\n", out)
	_, err = run(t, cfg, "meds", "add", "Warfarin")
	require.NoError(t, err)

	out, err = run(t, cfg, "meds", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "0\tIbuprofen\t")
	assert.Contains(t, out, "1\tWarfarin\t")

	out, err = run(t, cfg, "meds", "interactions")
	require.NoError(t, err)
	assert.Equal(t, "answer from /medication-interaction\n", out)
	assert.Equal(t, []any{"Ibuprofen", "Warfarin"}, fb.body("/medication-interaction")["medications"])

	out, err = run(t, cfg, "meds", "rm", "0")
	require.NoError(t, err)
	assert.Equal(t, "Removed Ibuprofen\n", out)

	_, err = run(t, cfg, "meds", "remove", "5")
	require.ErrorIs(t, err, medication.ErrIndexOutOfRange)
	_, err = run(t, cfg, "meds", "remove", "first")
	require.Error(t, err)
	_, err = run(t, cfg, "meds", "add", "  ")
	require.ErrorIs(t, err, medication.ErrEmptyName)
}

func TestHistoryClearAndLimit(t *testing.T) {
	fb := newFakeBackend(t)
	cfg := writeConfig(t, fb.URL)

	for _, msg := range []string{"one", "two", "three"} {
		_, err := run(t, cfg, "chat", msg)
		require.NoError(t, err)
	}
	out, err := run(t, cfg, "history", "--limit", "2")
	require.NoError(t, err)
	var recs []history.Record
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, "three", recs[0].UserMessage, "newest first")

	out, err = run(t, cfg, "history", "--clear")
	require.NoError(t, err)
	assert.Equal(t, "History cleared.\n", out)

	out, err = run(t, cfg, "history")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

func TestSettingsToggleSaveHistory(t *testing.T) {
	fb := newFakeBackend(t)
	cfg := writeConfig(t, fb.URL)

	out, err := run(t, cfg, "settings")
	require.NoError(t, err)
	var v settings.Values
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, settings.Defaults(), v)

	out, err = run(t, cfg, "settings", "--save-history=false")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.False(t, v.SaveHistory)

	_, err = run(t, cfg, "chat", "not saved")
	require.NoError(t, err)
	out, err = run(t, cfg, "history")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)

	_, err = run(t, cfg, "settings", "--anonymize-data=maybe")
	require.Error(t, err)
}

func TestStatusReportsReadiness(t *testing.T) {
	fb := newFakeBackend(t)
	cfg := writeConfig(t, fb.URL)

	out, err := run(t, cfg, "status")
	require.NoError(t, err)
	var st struct {
		Readiness struct {
			State string `json:"state"`
		} `json:"readiness"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	// backend answers but the runtime binary is missing
	assert.Equal(t, "degraded", st.Readiness.State)

	out, err = run(t, cfg, "status", "--no-probe")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "unknown", st.Readiness.State)
}

func TestSysInfo(t *testing.T) {
	cfg := writeConfig(t, closedURL(t))
	out, err := run(t, cfg, "sysinfo")
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.NotEmpty(t, info["platform"])
	assert.Equal(t, version, info["host_version"])
}

func TestBadConfigFails(t *testing.T) {
	_, err := run(t, filepath.Join(t.TempDir(), "missing.toml"), "status")
	require.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitList([]string{"a,b", " c ", ","}))
	assert.Nil(t, splitList(nil))
}

func TestCommandsViaBridge(t *testing.T) {
	fb := newFakeBackend(t)
	cfg := config.Default()
	cfg.Backend.Autostart = false
	cfg.Runtime.Binary = "offdoc-test-no-such-runtime"
	cfg.Health.URL = fb.URL + "/health"
	cfg.Chat.BaseURL = fb.URL
	cfg.Metrics.Enabled = false
	a, err := app.New(context.Background(), app.Options{Config: cfg, Store: store.NewMemory(), Version: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	bridge := httptest.NewServer(server.NewRouter(a, "").Handler())
	t.Cleanup(bridge.Close)

	out, err := run(t, "", "chat", "--api-url", bridge.URL, "hi there")
	require.NoError(t, err)
	assert.Equal(t, "answer from /consultation\n", out)
	assert.Equal(t, 1, a.History().Len())

	out, err = run(t, "", "symptoms", "--api-url", bridge.URL, "fever,cough")
	require.NoError(t, err)
	assert.Equal(t, "answer from /analyze-symptoms\n", out)

	_, err = run(t, "", "meds", "interactions", "--api-url", bridge.URL)
	require.ErrorContains(t, err, "at least two")

	out, err = run(t, "", "status", "--api-url", bridge.URL)
	require.NoError(t, err)
	var st struct {
		Readiness struct {
			State string `json:"state"`
		} `json:"readiness"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "degraded", st.Readiness.State)
}
