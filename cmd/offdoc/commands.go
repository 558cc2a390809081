package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/loykin/offdoc/internal/app"
	"github.com/loykin/offdoc/internal/backend"
	"github.com/loykin/offdoc/internal/config"
	"github.com/loykin/offdoc/internal/ollama"
	"github.com/loykin/offdoc/internal/server"
	"github.com/loykin/offdoc/internal/supervisor"
	"github.com/loykin/offdoc/pkg/client"
)

type command struct {
	out     io.Writer
	version string
}

func (c *command) Run(ctx context.Context, f RunFlags) error {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return err
	}
	if f.NoBackend {
		cfg.Backend.Autostart = false
	}
	if f.NoBridge {
		cfg.Bridge.Enabled = false
	}
	log := cfg.Log.NewSlogger()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, app.Options{Config: cfg, Logger: log, Version: c.version})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.Shutdown(sctx); err != nil {
			log.Warn("shutdown", "error", err)
		}
	}()

	if err := a.Start(ctx); err != nil {
		if !errors.Is(err, supervisor.ErrSpawn) {
			return err
		}
		// spawn failures are surfaced as a notice; the bridge can retry
		log.Error("backend failed to start", "error", err)
	}

	var srv *http.Server
	if cfg.Bridge.Enabled {
		srv, err = server.NewServer(cfg.Bridge.Addr, "", a)
		if err != nil {
			return fmt.Errorf("failed to start bridge: %w", err)
		}
		log.Info("bridge listening", "addr", srv.Addr)
	}

	snap := a.Machine().Snapshot()
	_, _ = fmt.Fprintf(c.out, "offdoc %s: %s (%s)\n", c.version, snap.State, snap.Reason)

	<-ctx.Done()
	log.Info("shutting down")
	if srv != nil {
		if err := server.Shutdown(srv, shutdownTimeout); err != nil {
			log.Warn("bridge shutdown", "error", err)
		}
	}
	return nil
}

// Backend runs the HTTP backend on top of the local model runtime.
func (c *command) Backend(ctx context.Context, f BackendFlags) error {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return err
	}
	oc := cfg.OllamaConfig()
	if f.Host != "" {
		oc.BaseURL = f.Host
	}
	if f.Model != "" {
		oc.Model = f.Model
	}
	addr := f.Addr
	if addr == "" {
		addr = cfg.Backend.Addr
	}
	log := cfg.Log.NewSlogger().With("component", "backend")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := ollama.NewClient(oc)
	boot := cfg.BootOptions()
	boot.Model = oc.Model
	boot.Logger = log
	res := backend.Boot(ctx, client, boot)
	if res.Runtime != nil {
		// the runtime server started here goes down with the backend
		defer func() { _ = res.Runtime.Stop(shutdownTimeout) }()
	}
	a := backend.NewAssistant(client, oc.Model, log)
	return backend.Serve(ctx, addr, backend.NewRouter(a, log))
}

func (c *command) Status(ctx context.Context, f StatusFlags) error {
	if f.APIUrl != "" {
		return c.statusViaAPI(ctx, f, bridgeClient(f.APIUrl, 0))
	}
	a, closeFn, err := openApp(ctx, f.ConfigPath, c.version)
	if err != nil {
		return err
	}
	defer closeFn()
	if !f.NoProbe {
		a.Refresh(ctx)
	}
	printJSON(c.out, a.Status())
	return nil
}

func (c *command) Chat(ctx context.Context, f ChatFlags, message string) error {
	if f.APIUrl != "" {
		reply, err := bridgeClient(f.APIUrl, f.Timeout).Chat(ctx, message)
		return c.printReply(reply.Response, err)
	}
	a, closeFn, err := openApp(ctx, f.ConfigPath, c.version)
	if err != nil {
		return err
	}
	defer closeFn()
	ctx, cancel := withOptionalTimeout(ctx, f)
	defer cancel()
	a.Refresh(ctx)
	reply, err := a.Chat().Send(ctx, message)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, reply.Text)
	return nil
}

func (c *command) Symptoms(ctx context.Context, f ChatFlags, symptoms []string) error {
	if f.APIUrl != "" {
		reply, err := bridgeClient(f.APIUrl, f.Timeout).AnalyzeSymptoms(ctx, splitList(symptoms))
		return c.printReply(reply.Response, err)
	}
	a, closeFn, err := openApp(ctx, f.ConfigPath, c.version)
	if err != nil {
		return err
	}
	defer closeFn()
	ctx, cancel := withOptionalTimeout(ctx, f)
	defer cancel()
	a.Refresh(ctx)
	reply, err := a.Chat().AnalyzeSymptoms(ctx, splitList(symptoms))
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, reply.Text)
	return nil
}

func (c *command) MedsList(ctx context.Context, configPath string) error {
	a, closeFn, err := openApp(ctx, configPath, c.version)
	if err != nil {
		return err
	}
	defer closeFn()
	items := a.Medications().Items()
	if len(items) == 0 {
		_, _ = fmt.Fprintln(c.out, "No medications saved.")
		return nil
	}
	for i, m := range items {
		_, _ = fmt.Fprintf(c.out, "%d\t%s\t%s\n", i, m.Name, m.DateAdded.Format("2006-01-02"))
	}
	return nil
}

func (c *command) MedsAdd(ctx context.Context, configPath, name string) error {
	a, closeFn, err := openApp(ctx, configPath, c.version)
	if err != nil {
		return err
	}
	defer closeFn()
	rec, err := a.Medications().Add(ctx, name)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "Added %s\n", rec.Name)
	return nil
}

func (c *command) MedsRemove(ctx context.Context, configPath, index string) error {
	idx, err := strconv.Atoi(index)
	if err != nil {
		return fmt.Errorf("invalid index %q", index)
	}
	a, closeFn, err := openApp(ctx, configPath, c.version)
	if err != nil {
		return err
	}
	defer closeFn()
	rec, err := a.Medications().Remove(ctx, idx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "Removed %s\n", rec.Name)
	return nil
}

func (c *command) MedsInteractions(ctx context.Context, f ChatFlags) error {
	if f.APIUrl != "" {
		return c.printReply(bridgeClient(f.APIUrl, f.Timeout).CheckInteractions(ctx))
	}
	a, closeFn, err := openApp(ctx, f.ConfigPath, c.version)
	if err != nil {
		return err
	}
	defer closeFn()
	ctx, cancel := withOptionalTimeout(ctx, f)
	defer cancel()
	text, err := a.CheckInteractions(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, text)
	return nil
}

func (c *command) History(ctx context.Context, f HistoryFlags) error {
	a, closeFn, err := openApp(ctx, f.ConfigPath, c.version)
	if err != nil {
		return err
	}
	defer closeFn()
	if f.Clear {
		if err := a.History().Clear(ctx); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(c.out, "History cleared.")
		return nil
	}
	recs := a.History().List()
	if f.Limit > 0 && len(recs) > f.Limit {
		recs = recs[:f.Limit]
	}
	printJSON(c.out, recs)
	return nil
}

func (c *command) Settings(ctx context.Context, f SettingsFlags) error {
	saveHistory, err := parseOptionalBool("save-history", f.SaveHistory)
	if err != nil {
		return err
	}
	anonymize, err := parseOptionalBool("anonymize-data", f.AnonymizeData)
	if err != nil {
		return err
	}
	a, closeFn, err := openApp(ctx, f.ConfigPath, c.version)
	if err != nil {
		return err
	}
	defer closeFn()
	cur, err := a.Settings().Get(ctx)
	if err != nil {
		return err
	}
	next := cur
	if saveHistory != nil {
		next.SaveHistory = *saveHistory
	}
	if anonymize != nil {
		next.AnonymizeData = *anonymize
	}
	if next != cur {
		if err := a.Settings().Put(ctx, next); err != nil {
			return err
		}
	}
	printJSON(c.out, next)
	return nil
}

func (c *command) SysInfo(ctx context.Context, configPath string) error {
	a, closeFn, err := openApp(ctx, configPath, c.version)
	if err != nil {
		return err
	}
	defer closeFn()
	printJSON(c.out, a.SystemInfo(ctx))
	return nil
}

// statusViaAPI reads the status of a running offdoc through its bridge.
func (c *command) statusViaAPI(ctx context.Context, f StatusFlags, cl *client.Client) error {
	if !f.NoProbe {
		if _, err := cl.Refresh(ctx); err != nil {
			return err
		}
	}
	st, err := cl.Status(ctx)
	if err != nil {
		return err
	}
	printJSON(c.out, st)
	return nil
}

func (c *command) printReply(text string, err error) error {
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, text)
	return nil
}

func withOptionalTimeout(ctx context.Context, f ChatFlags) (context.Context, context.CancelFunc) {
	if f.Timeout > 0 {
		return context.WithTimeout(ctx, f.Timeout)
	}
	return context.WithTimeout(ctx, defaultRequestTimeout)
}

// splitList accepts both "a b" and "a,b" forms.
func splitList(args []string) []string {
	var out []string
	for _, a := range args {
		for _, p := range strings.Split(a, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
