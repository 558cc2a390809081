package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/loykin/offdoc/internal/app"
	"github.com/loykin/offdoc/internal/config"
	"github.com/loykin/offdoc/pkg/client"
)

const (
	shutdownTimeout = 10 * time.Second
	// bounds one-shot commands that did not set --timeout
	defaultRequestTimeout = 2 * time.Minute
)

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}

// openApp loads the configuration and builds the application without
// starting the backend. The returned close func shuts it down.
func openApp(ctx context.Context, configPath, version string) (*app.App, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, app.Options{
		Config:  cfg,
		Logger:  cfg.Log.NewSlogger(),
		Version: version,
	})
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = a.Shutdown(sctx)
	}
	return a, closeFn, nil
}

// parseOptionalBool returns nil for an empty flag value.
func parseOptionalBool(name, s string) (*bool, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return &v, nil
}

func bridgeClient(url string, timeout time.Duration) *client.Client {
	return client.New(client.Config{BaseURL: url, Timeout: timeout})
}
