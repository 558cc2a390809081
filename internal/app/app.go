// Package app is the application context: it builds every component once,
// wires supervisor events into the readiness machine and tears everything
// down on Shutdown. Nothing here is a package-level global.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/offdoc/internal/chat"
	"github.com/loykin/offdoc/internal/config"
	"github.com/loykin/offdoc/internal/detector"
	"github.com/loykin/offdoc/internal/health"
	"github.com/loykin/offdoc/internal/history"
	"github.com/loykin/offdoc/internal/medication"
	"github.com/loykin/offdoc/internal/metrics"
	"github.com/loykin/offdoc/internal/process"
	"github.com/loykin/offdoc/internal/readiness"
	"github.com/loykin/offdoc/internal/settings"
	"github.com/loykin/offdoc/internal/store"
	"github.com/loykin/offdoc/internal/supervisor"
	"github.com/loykin/offdoc/internal/sysinfo"
)

var ErrTooFewMedications = errors.New("at least two medications are required")

type Options struct {
	Config  *config.Config
	Logger  *slog.Logger
	Version string
	// Store overrides the store opened from Config.Store.DSN.
	Store store.KV
	// Registerer receives the metrics when enabled; nil means the default
	// Prometheus registry.
	Registerer prometheus.Registerer
}

type App struct {
	cfg     *config.Config
	log     *slog.Logger
	version string
	reg     prometheus.Registerer

	kv        store.KV
	history   *history.Book
	meds      *medication.List
	settings  *settings.Settings
	machine   *readiness.Machine
	sup       *supervisor.Supervisor
	probe     *detector.RuntimeProbe
	health    *health.Reporter
	client    *chat.Client
	chat      *chat.Controller
	resources *metrics.ResourceCollector
	refresh   *refresher

	notices     noticeLog
	runtimeOnce sync.Once

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	shutdown sync.Once
}

// New builds the application and loads persisted state. It does not launch
// anything; call Start.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	kv := opts.Store
	if kv == nil {
		var err error
		if kv, err = store.Open(cfg.Store.DSN); err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}
	backendEnv, err := cfg.BackendEnv()
	if err != nil {
		_ = kv.Close()
		return nil, err
	}

	a := &App{
		cfg:       cfg,
		log:       log,
		version:   opts.Version,
		reg:       opts.Registerer,
		kv:        kv,
		history:   history.NewBook(kv, log.With("component", "history")),
		meds:      medication.NewList(kv, log.With("component", "medication")),
		settings:  settings.New(kv),
		machine:   readiness.NewMachine(),
		probe:     detector.NewRuntimeProbe(cfg.Runtime.Binary, cfg.Runtime.Args, cfg.Runtime.Timeout, log.With("component", "runtime")),
		health:    health.NewReporter(cfg.Health.URL, cfg.Health.Timeout, log.With("component", "health")),
		client:    chat.NewClient(chat.ClientConfig{BaseURL: cfg.Chat.BaseURL, Timeout: cfg.Chat.Timeout, Logger: log}),
		resources: metrics.NewResourceCollector(cfg.Metrics.Resources),
		refresh:   newRefresher(log.With("component", "refresh")),
		ctx:       context.Background(),
	}
	a.sup = supervisor.New(supervisor.Options{
		Spec:         cfg.ProcessSpec(),
		Env:          backendEnv,
		StartupGrace: cfg.Backend.StartupGrace,
		StopWait:     cfg.Backend.StopWait,
		Logger:       log,
		OnEvent:      a.onSupervisorEvent,
		Probe:        a.checkHealth,
	})
	a.chat = chat.NewController(chat.Options{
		Backend:   a.client,
		Readiness: a.machine,
		History:   a.history,
		Settings:  a.settings,
		Policy:    cfg.FallbackPolicy(),
		Logger:    log.With("component", "chat"),
	})

	if err := a.history.Load(ctx); err != nil {
		_ = kv.Close()
		return nil, err
	}
	if err := a.meds.Load(ctx); err != nil {
		_ = kv.Close()
		return nil, err
	}
	a.machine.Subscribe(func(s readiness.Snapshot) {
		a.log.Info("readiness changed", "state", s.State.String(), "reason", s.Reason)
	})
	return a, nil
}

// Start runs the startup sequence: backend launch, runtime probe and health
// check run concurrently. A spawn failure is returned (wrapping
// supervisor.ErrSpawn) after the probes completed; the readiness machine is
// populated either way.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.ctx, a.cancel = runCtx, cancel
	a.mu.Unlock()

	if a.cfg.Metrics.Enabled {
		reg := a.reg
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		if err := metrics.Register(reg); err != nil {
			a.log.Warn("metrics registration failed", "error", err)
		}
		if err := a.resources.RegisterMetrics(reg); err != nil {
			a.log.Warn("resource metrics registration failed", "error", err)
		}
	}
	a.resources.Start(runCtx, a.sup.PID)

	var g errgroup.Group
	if a.cfg.Backend.Autostart {
		g.Go(func() error { return a.sup.Start(runCtx) })
	} else {
		a.machine.SetProcess(process.StateNotStarted)
	}
	g.Go(func() error {
		av := a.probe.Probe(runCtx)
		a.machine.SetRuntime(av)
		if !av.Available {
			a.runtimeAdvisory(av)
		}
		return nil
	})
	g.Go(func() error {
		a.checkHealth(runCtx)
		return nil
	})
	err := g.Wait()

	if expr := a.cfg.Health.Schedule; expr != "" {
		if serr := a.refresh.start(runCtx, expr, func(ctx context.Context) { a.Refresh(ctx) }); serr != nil {
			a.log.Warn("readiness refresh not scheduled", "error", serr)
		}
	}
	return err
}

// Refresh re-probes the runtime and the backend concurrently and returns
// the recomputed readiness.
func (a *App) Refresh(ctx context.Context) readiness.Snapshot {
	var g errgroup.Group
	var av detector.RuntimeAvailability
	var hr health.Result
	g.Go(func() error { av = a.probe.Probe(ctx); return nil })
	g.Go(func() error { hr = a.health.Check(ctx); return nil })
	_ = g.Wait()
	ps := a.sup.Handle().State
	return a.machine.Observe(readiness.Observation{Process: &ps, Runtime: &av, Health: &hr})
}

// RuntimeAvailable probes the model runtime now.
func (a *App) RuntimeAvailable(ctx context.Context) bool {
	av := a.probe.Probe(ctx)
	a.machine.SetRuntime(av)
	return av.Available
}

// RestartBackend is the user-initiated retry after a spawn failure.
func (a *App) RestartBackend(ctx context.Context) error {
	a.mu.Lock()
	runCtx := a.ctx
	a.mu.Unlock()
	if err := a.sup.Restart(runCtx); err != nil {
		return err
	}
	a.checkHealth(ctx)
	return nil
}

// CheckInteractions asks the backend about the saved medication list.
func (a *App) CheckInteractions(ctx context.Context) (string, error) {
	names := a.meds.Names()
	if len(names) < 2 {
		return "", ErrTooFewMedications
	}
	return a.client.CheckInteractions(ctx, names)
}

// Status is the combined view shown by `offdoc status` and the bridge.
type Status struct {
	Readiness readiness.Snapshot     `json:"readiness"`
	Backend   process.Status         `json:"backend"`
	LastEvent *supervisor.Event      `json:"last_event,omitempty"`
	Resources *metrics.ProcessSample `json:"resources,omitempty"`
}

func (a *App) Status() Status {
	st := Status{Readiness: a.machine.Snapshot(), Backend: a.sup.Handle()}
	if ev, ok := a.sup.LastEvent(); ok {
		st.LastEvent = &ev
	}
	if s, ok := a.resources.Latest(); ok {
		st.Resources = &s
	}
	return st
}

func (a *App) SystemInfo(ctx context.Context) sysinfo.Info {
	return sysinfo.Collect(ctx, a.version)
}

func (a *App) Config() *config.Config             { return a.cfg }
func (a *App) Machine() *readiness.Machine        { return a.machine }
func (a *App) Chat() *chat.Controller             { return a.chat }
func (a *App) History() *history.Book             { return a.history }
func (a *App) Medications() *medication.List      { return a.meds }
func (a *App) Settings() *settings.Settings       { return a.settings }
func (a *App) Supervisor() *supervisor.Supervisor { return a.sup }
func (a *App) Notices() []Notice                  { return a.notices.list() }
func (a *App) Version() string                    { return a.version }

// Shutdown stops the schedule and the backend, then closes the store. Safe
// to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.shutdown.Do(func() {
		a.refresh.stop()
		a.resources.Stop()
		done := make(chan error, 1)
		go func() { done <- a.sup.Stop() }()
		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, fmt.Errorf("stop backend: %w", err))
			}
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("stop backend: %w", ctx.Err()))
		}
		a.mu.Lock()
		if a.cancel != nil {
			a.cancel()
		}
		a.mu.Unlock()
		if err := a.kv.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	})
	return errors.Join(errs...)
}

func (a *App) checkHealth(ctx context.Context) {
	a.machine.SetHealth(a.health.Check(ctx))
}

// runtimeAdvisory raises the one-time notice for a runtime that failed the
// startup probe.
func (a *App) runtimeAdvisory(av detector.RuntimeAvailability) {
	a.runtimeOnce.Do(func() {
		a.log.Warn("model runtime is not available", "binary", a.cfg.Runtime.Binary, "detail", av.Detail)
		a.notices.add(Notice{
			Kind:    NoticeRuntimeMissing,
			Message: fmt.Sprintf("Ollama is not installed or not running (%s). Install or start it to enable AI consultations.", av.Detail),
			At:      av.CheckedAt,
		})
	})
}

func (a *App) onSupervisorEvent(e supervisor.Event) {
	a.machine.SetProcess(e.Status.State)
	switch e.Kind {
	case supervisor.EventSpawnFailed:
		a.notices.add(Notice{Kind: NoticeSpawnFailed, Message: "Failed to start the backend: " + e.Err, Fatal: true, At: e.At})
	case supervisor.EventExitedEarly:
		a.notices.add(Notice{Kind: NoticeExitedEarly, Message: fmt.Sprintf("Backend exited with code %d during startup; checking whether it is already running.", e.Status.ExitCode), At: e.At})
	case supervisor.EventExited:
		a.notices.add(Notice{Kind: NoticeBackendExited, Message: fmt.Sprintf("Backend exited with code %d.", e.Status.ExitCode), At: e.At})
	}
}
