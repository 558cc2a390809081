package offdoc

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/offdoc/internal/app"
	cfg "github.com/loykin/offdoc/internal/config"
	"github.com/loykin/offdoc/internal/metrics"
	"github.com/loykin/offdoc/internal/readiness"
	iapi "github.com/loykin/offdoc/internal/server"
	"github.com/loykin/offdoc/internal/store"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type Status = app.Status

type Notice = app.Notice

type Readiness = readiness.Snapshot

type ReadinessState = readiness.State

const (
	Unknown     = readiness.Unknown
	Ready       = readiness.Ready
	Degraded    = readiness.Degraded
	Unavailable = readiness.Unavailable
)

// Store is the key-value store history, medications and settings live in.
type Store = store.KV

// OpenStore opens a store by DSN (memory://, sqlite://path, postgres://...).
func OpenStore(dsn string) (Store, error) { return store.Open(dsn) }

// Options configures New. Zero values fall back to defaults.
type Options struct {
	Config  *Config
	Logger  *slog.Logger
	Version string
	Store   Store
}

// App is a thin facade over internal/app.App for embedding.
type App struct{ inner *app.App }

func New(ctx context.Context, o Options) (*App, error) {
	a, err := app.New(ctx, app.Options{Config: o.Config, Logger: o.Logger, Version: o.Version, Store: o.Store})
	if err != nil {
		return nil, err
	}
	return &App{inner: a}, nil
}

func (a *App) Start(ctx context.Context) error          { return a.inner.Start(ctx) }
func (a *App) Refresh(ctx context.Context) Readiness    { return a.inner.Refresh(ctx) }
func (a *App) Readiness() ReadinessState                { return a.inner.Machine().State() }
func (a *App) Status() Status                           { return a.inner.Status() }
func (a *App) Notices() []Notice                        { return a.inner.Notices() }
func (a *App) RestartBackend(ctx context.Context) error { return a.inner.RestartBackend(ctx) }
func (a *App) Shutdown(ctx context.Context) error       { return a.inner.Shutdown(ctx) }

// Ask sends a consultation message. Backend failures come back as fallback
// text, never as errors.
func (a *App) Ask(ctx context.Context, message string) (string, error) {
	r, err := a.inner.Chat().Send(ctx, message)
	return r.Text, err
}

// AnalyzeSymptoms asks about a list of symptoms.
func (a *App) AnalyzeSymptoms(ctx context.Context, symptoms []string) (string, error) {
	r, err := a.inner.Chat().AnalyzeSymptoms(ctx, symptoms)
	return r.Text, err
}

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

func DefaultConfig() *Config { return cfg.Default() }

// NewHTTPServer starts the local bridge API for a.
func NewHTTPServer(addr, basePath string, a *App) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, a.inner)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
