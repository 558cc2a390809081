package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/offdoc/internal/app"
	"github.com/loykin/offdoc/internal/chat"
	"github.com/loykin/offdoc/internal/config"
	"github.com/loykin/offdoc/internal/store"
)

func closedURL(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return "http://" + addr
}

// setupRouter builds an app that never launches a backend; chatURL is where
// consultation requests go.
func setupRouter(t *testing.T, base, chatURL string) (http.Handler, *app.App) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.Backend.Autostart = false
	cfg.Chat.BaseURL = chatURL
	cfg.Chat.Timeout = 2 * time.Second
	cfg.Chat.FallbackPolicy = "first"
	cfg.Health.URL = closedURL(t) + "/health"
	cfg.Health.Timeout = time.Second
	cfg.Runtime.Binary = "__offdoc_no_such_runtime__"
	cfg.Metrics.Enabled = false
	a, err := app.New(context.Background(), app.Options{Config: cfg, Store: store.NewMemory(), Version: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return NewRouter(a, base).Handler(), a
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestOllamaStatusAndSystemInfo(t *testing.T) {
	h, _ := setupRouter(t, "/api", closedURL(t))

	rec := doReq(t, h, http.MethodGet, "/api/ollama-status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]bool{"available": false}, decode[map[string]bool](t, rec))

	rec = doReq(t, h, http.MethodGet, "/api/system-info", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[map[string]any](t, rec)
	assert.NotEmpty(t, info["platform"])
	assert.NotEmpty(t, info["arch"])
	assert.Equal(t, "test", info["host_version"])
}

func TestStatusRefresh(t *testing.T) {
	h, _ := setupRouter(t, "/api", closedURL(t))

	st := decode[map[string]any](t, doReq(t, h, http.MethodGet, "/api/status", nil))
	assert.Equal(t, "unknown", st["readiness"].(map[string]any)["state"])

	rec := doReq(t, h, http.MethodPost, "/api/status/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unavailable", decode[map[string]any](t, rec)["state"])
}

func TestChatFallbackWhenUnavailable(t *testing.T) {
	h, a := setupRouter(t, "/api", closedURL(t))
	a.Refresh(context.Background())

	rec := doReq(t, h, http.MethodPost, "/api/chat", map[string]string{"message": "I have a headache"})
	require.Equal(t, http.StatusOK, rec.Code)
	reply := decode[chat.Reply](t, rec)
	assert.True(t, reply.Fallback)
	assert.Equal(t, chat.Fallbacks[0], reply.Text)

	tr := decode[map[string]any](t, doReq(t, h, http.MethodGet, "/api/chat/transcript", nil))
	assert.Len(t, tr["entries"], 2)

	hist := decode[[]map[string]any](t, doReq(t, h, http.MethodGet, "/api/history", nil))
	require.Len(t, hist, 1)
	assert.Equal(t, "consultation", hist[0]["type"])

	assert.Equal(t, http.StatusOK, doReq(t, h, http.MethodPost, "/api/chat/reset", nil).Code)
	tr = decode[map[string]any](t, doReq(t, h, http.MethodGet, "/api/chat/transcript", nil))
	assert.Empty(t, tr["entries"])

	assert.Equal(t, http.StatusOK, doReq(t, h, http.MethodDelete, "/api/history", nil).Code)
	assert.Empty(t, decode[[]map[string]any](t, doReq(t, h, http.MethodGet, "/api/history", nil)))
}

func TestChatThroughBackend(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/consultation":
			_, _ = w.Write([]byte(`{"response":"Consider hydration and rest."}`))
		case "/analyze-symptoms":
			_, _ = w.Write([]byte(`{"response":"Possibly a cold."}`))
		case "/medication-interaction":
			_, _ = w.Write([]byte(`{"response":"No known interactions."}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(backend.Close)
	h, _ := setupRouter(t, "", backend.URL)

	rec := doReq(t, h, http.MethodPost, "/chat", map[string]string{"message": "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Consider hydration and rest.", decode[chat.Reply](t, rec).Text)

	rec = doReq(t, h, http.MethodPost, "/symptoms", map[string]any{"symptoms": []string{"fever", "cough"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Possibly a cold.", decode[chat.Reply](t, rec).Text)

	assert.Equal(t, http.StatusBadRequest, doReq(t, h, http.MethodPost, "/symptoms", map[string]any{"symptoms": []string{}}).Code)
	assert.Equal(t, http.StatusBadRequest, doReq(t, h, http.MethodPost, "/chat", map[string]string{"message": " "}).Code)

	hist := decode[[]map[string]any](t, doReq(t, h, http.MethodGet, "/history", nil))
	require.Len(t, hist, 2)
	assert.Equal(t, "symptom", hist[0]["type"])
	assert.Equal(t, "Symptoms: fever, cough", hist[0]["userMessage"])

	assert.Equal(t, http.StatusBadRequest, doReq(t, h, http.MethodPost, "/medications/interactions", nil).Code)
	doReq(t, h, http.MethodPost, "/medications", map[string]string{"name": "Aspirin"})
	doReq(t, h, http.MethodPost, "/medications", map[string]string{"name": "Warfarin"})
	rec = doReq(t, h, http.MethodPost, "/medications/interactions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "No known interactions.", decode[map[string]string](t, rec)["response"])
}

func TestMedications(t *testing.T) {
	h, _ := setupRouter(t, "/api", closedURL(t))

	assert.Equal(t, http.StatusBadRequest, doReq(t, h, http.MethodPost, "/api/medications", map[string]string{"name": "  "}).Code)
	rec := doReq(t, h, http.MethodPost, "/api/medications", map[string]string{"name": "Ibuprofen"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ibuprofen", decode[map[string]any](t, rec)["name"])

	assert.Len(t, decode[[]map[string]any](t, doReq(t, h, http.MethodGet, "/api/medications", nil)), 1)
	assert.Equal(t, http.StatusBadRequest, doReq(t, h, http.MethodDelete, "/api/medications/abc", nil).Code)
	assert.Equal(t, http.StatusNotFound, doReq(t, h, http.MethodDelete, "/api/medications/5", nil).Code)
	assert.Equal(t, http.StatusOK, doReq(t, h, http.MethodDelete, "/api/medications/0", nil).Code)
	assert.Empty(t, decode[[]map[string]any](t, doReq(t, h, http.MethodGet, "/api/medications", nil)))
}

func TestSettings(t *testing.T) {
	h, _ := setupRouter(t, "/api", closedURL(t))

	got := decode[map[string]bool](t, doReq(t, h, http.MethodGet, "/api/settings", nil))
	assert.Equal(t, map[string]bool{"saveHistory": true, "anonymizeData": false}, got)

	rec := doReq(t, h, http.MethodPut, "/api/settings", map[string]bool{"anonymizeData": true})
	require.Equal(t, http.StatusOK, rec.Code)
	got = decode[map[string]bool](t, rec)
	assert.Equal(t, map[string]bool{"saveHistory": true, "anonymizeData": true}, got)

	doReq(t, h, http.MethodPut, "/api/settings", map[string]bool{"saveHistory": false})
	got = decode[map[string]bool](t, doReq(t, h, http.MethodGet, "/api/settings", nil))
	assert.Equal(t, map[string]bool{"saveHistory": false, "anonymizeData": true}, got)
}

func TestNotices(t *testing.T) {
	h, a := setupRouter(t, "/api", closedURL(t))
	a.RuntimeAvailable(context.Background())
	notices := decode[[]map[string]any](t, doReq(t, h, http.MethodGet, "/api/notices", nil))
	assert.Empty(t, notices, "only the startup probe raises the advisory")

	a.Config().Health.Schedule = ""
	require.NoError(t, a.Start(context.Background()))
	notices = decode[[]map[string]any](t, doReq(t, h, http.MethodGet, "/api/notices", nil))
	require.Len(t, notices, 1)
	assert.Equal(t, "runtime_missing", notices[0]["kind"])
}

func TestSanitizeBase(t *testing.T) {
	assert.Equal(t, "", sanitizeBase(""))
	assert.Equal(t, "", sanitizeBase("/"))
	assert.Equal(t, "/api", sanitizeBase("api/"))
	assert.Equal(t, "/api/v1", sanitizeBase(" /api/v1/ "))
}

func TestNewServer(t *testing.T) {
	_, a := setupRouter(t, "/api", closedURL(t))
	srv, err := NewServer("127.0.0.1:0", "/api", a)
	require.NoError(t, err)
	resp, err := http.Get("http://" + srv.Addr + "/api/settings")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, Shutdown(srv, time.Second))
}
