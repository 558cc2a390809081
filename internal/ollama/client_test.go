package ollama

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeRuntime(t *testing.T, models []string, pulls *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		var out ListModelsResponse
		for _, m := range models {
			out.Models = append(out.Models, ModelInfo{Name: m})
		}
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("/api/pull", func(w http.ResponseWriter, r *http.Request) {
		var req PullRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if pulls != nil {
			pulls.Add(1)
		}
		if req.Name == "missing:1b" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"pull model manifest: file does not exist"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"success"}`))
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(GenerateResponse{
			Model:    req.Model,
			Response: "echo: " + req.Prompt,
			Done:     true,
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func closedURL(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return "http://" + addr
}

func TestDefaults(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:11434/"})
	assert.Equal(t, DefaultBaseURL, c.BaseURL())
	assert.Equal(t, DefaultModel, c.Model())
}

func TestCheckRunning(t *testing.T) {
	srv := fakeRuntime(t, nil, nil)
	require.NoError(t, NewClient(Config{BaseURL: srv.URL}).CheckRunning(context.Background()))

	err := NewClient(Config{BaseURL: closedURL(t)}).CheckRunning(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestCheckRunningTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := NewClient(Config{BaseURL: srv.URL}).CheckRunning(ctx)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestListAndEnsureModel(t *testing.T) {
	var pulls atomic.Int32
	srv := fakeRuntime(t, []string{"llama3.1:8b"}, &pulls)
	c := NewClient(Config{BaseURL: srv.URL})

	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "llama3.1:8b", models[0].Name)

	require.NoError(t, c.EnsureModel(context.Background(), ""))
	assert.Equal(t, int32(0), pulls.Load(), "installed model is not pulled")

	require.NoError(t, c.EnsureModel(context.Background(), "mistral:7b"))
	assert.Equal(t, int32(1), pulls.Load())

	err = c.EnsureModel(context.Background(), "missing:1b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file does not exist")
}

func TestGenerate(t *testing.T) {
	srv := fakeRuntime(t, nil, nil)
	c := NewClient(Config{BaseURL: srv.URL})
	resp, err := c.Generate(context.Background(), GenerateRequest{Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, resp.Model)
	assert.Equal(t, "echo: hello", resp.Response)
}

func TestGenerateNotRunning(t *testing.T) {
	c := NewClient(Config{BaseURL: closedURL(t)})
	_, err := c.Generate(context.Background(), GenerateRequest{Prompt: "hello"})
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.NotErrorIs(t, err, ErrTimeout)
}
