// Package health performs single-shot liveness checks against the backend's
// loopback endpoint.
package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/loykin/offdoc/internal/metrics"
)

const (
	DefaultURL     = "http://127.0.0.1:5000/health"
	DefaultTimeout = 5 * time.Second
)

// Status is the outcome of one health check.
type Status int

const (
	Unknown Status = iota
	Reachable
	Unreachable
	TimedOut
)

func (s Status) String() string {
	switch s {
	case Reachable:
		return "reachable"
	case Unreachable:
		return "unreachable"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Result is the latest observation. Code is the HTTP status when a response
// was received.
type Result struct {
	Status    Status        `json:"status"`
	Code      int           `json:"code,omitempty"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Observed reports whether the result carries an actual observation.
func (r Result) Observed() bool { return r.Status != Unknown }

// Reporter issues GET requests to a fixed endpoint. It performs no retries.
type Reporter struct {
	url     string
	timeout time.Duration
	client  *http.Client
	log     *slog.Logger
}

// NewReporter returns a reporter for url; zero values fall back to the
// backend default endpoint and a 5s bound.
func NewReporter(url string, timeout time.Duration, log *slog.Logger) *Reporter {
	if url == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reporter{
		url:     url,
		timeout: timeout,
		// each check opens a fresh connection
		client: &http.Client{Transport: &http.Transport{DisableKeepAlives: true}},
		log:    log,
	}
}

func (r *Reporter) URL() string            { return r.url }
func (r *Reporter) Timeout() time.Duration { return r.timeout }

// Check performs one GET. A 2xx response is Reachable; any other response
// is Unreachable with its code recorded; a transport error is Unreachable;
// no response within the timeout is TimedOut. Cancelling ctx yields Unknown.
func (r *Reporter) Check(ctx context.Context) Result {
	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res := r.do(cctx, ctx)
	res.Latency = time.Since(start)
	res.CheckedAt = time.Now()

	r.log.Debug("health check", "url", r.url, "status", res.Status.String(), "code", res.Code, "latency", res.Latency, "error", res.Error)
	if res.Observed() {
		metrics.ObserveHealthCheck(res.Status.String(), res.Latency.Seconds())
	}
	return res
}

func (r *Reporter) do(ctx, parent context.Context) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return Result{Status: Unreachable, Error: fmt.Sprintf("build request: %v", err)}
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return classify(err, parent)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Result{Status: Reachable, Code: resp.StatusCode}
	}
	return Result{Status: Unreachable, Code: resp.StatusCode, Error: resp.Status}
}

func classify(err error, parent context.Context) Result {
	if parent.Err() != nil && errors.Is(err, context.Canceled) {
		return Result{Status: Unknown, Error: err.Error()}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Result{Status: TimedOut, Error: err.Error()}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Result{Status: TimedOut, Error: err.Error()}
	}
	return Result{Status: Unreachable, Error: err.Error()}
}
