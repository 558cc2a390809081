package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "offdoc"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	backendStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "starts_total",
			Help:      "Number of successful backend spawns.",
		},
	)
	backendSpawnFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "spawn_failures_total",
			Help:      "Number of backend launches that failed to spawn.",
		},
	)
	backendExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "exits_total",
			Help:      "Backend exits by kind (early, exited, stopped).",
		}, []string{"kind"},
	)
	healthChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "checks_total",
			Help:      "Backend health checks by outcome.",
		}, []string{"status"},
	)
	healthLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "check_duration_seconds",
			Help:      "Duration of backend health checks.",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)
	runtimeProbes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "probes_total",
			Help:      "Model runtime probes by result.",
		}, []string{"result"},
	)
	readinessState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "readiness",
			Name:      "state",
			Help:      "Current application readiness (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
	readinessTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "readiness",
			Name:      "transitions_total",
			Help:      "Number of readiness transitions.",
		}, []string{"from", "to"},
	)
	chatRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Chat submissions by kind (consultation, symptoms).",
		}, []string{"kind"},
	)
	chatFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "fallbacks_total",
			Help:      "Chat submissions answered with a canned fallback.",
		}, []string{"kind"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		backendStarts, backendSpawnFailures, backendExits,
		healthChecks, healthLatency, runtimeProbes,
		readinessState, readinessTransitions,
		chatRequests, chatFallbacks,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncBackendStart() {
	if regOK.Load() {
		backendStarts.Inc()
	}
}

func IncSpawnFailure() {
	if regOK.Load() {
		backendSpawnFailures.Inc()
	}
}

func IncBackendExit(kind string) {
	if regOK.Load() {
		backendExits.WithLabelValues(kind).Inc()
	}
}

func ObserveHealthCheck(status string, seconds float64) {
	if regOK.Load() {
		healthChecks.WithLabelValues(status).Inc()
		healthLatency.Observe(seconds)
	}
}

func ObserveRuntimeProbe(available bool) {
	if regOK.Load() {
		result := "unavailable"
		if available {
			result = "available"
		}
		runtimeProbes.WithLabelValues(result).Inc()
	}
}

// RecordReadiness moves the active readiness gauge from one state to another.
func RecordReadiness(from, to string) {
	if regOK.Load() {
		readinessTransitions.WithLabelValues(from, to).Inc()
		readinessState.WithLabelValues(from).Set(0)
		readinessState.WithLabelValues(to).Set(1)
	}
}

func IncChatRequest(kind string) {
	if regOK.Load() {
		chatRequests.WithLabelValues(kind).Inc()
	}
}

func IncChatFallback(kind string) {
	if regOK.Load() {
		chatFallbacks.WithLabelValues(kind).Inc()
	}
}
