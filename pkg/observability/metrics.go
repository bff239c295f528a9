package observability

import (
	"context"
	"net/http"
	"strconv"

	"github.com/aretw0/caretree/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the CareTree collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	sessionsStarted  *prometheus.CounterVec
	responses        *prometheus.CounterVec
	backs            *prometheus.CounterVec
	sessionsResolved *prometheus.CounterVec
	resolvedScore    *prometheus.HistogramVec
	reconciled       *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors, plus the Go runtime and
// process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caretree_sessions_started_total",
				Help: "Total number of triage sessions started",
			},
			[]string{"version_id", "offline"},
		),
		responses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caretree_responses_total",
				Help: "Total number of responses recorded",
			},
			[]string{"version_id", "offline"},
		),
		backs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caretree_back_total",
				Help: "Total number of undone responses",
			},
			[]string{"version_id", "offline"},
		),
		sessionsResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caretree_sessions_resolved_total",
				Help: "Total number of sessions resolved, by priority and termination",
			},
			[]string{"priority", "dead_end", "offline"},
		),
		resolvedScore: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "caretree_resolved_score",
				Help:    "Total score of resolved sessions",
				Buckets: []float64{0, 5, 10, 15, 20, 30, 50},
			},
			[]string{"priority"},
		),
		reconciled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "caretree_reconcile_items_total",
				Help: "Total number of offline items reconciled, by outcome",
			},
			[]string{"outcome"},
		),
	}
	m.registry.MustRegister(
		m.sessionsStarted,
		m.responses,
		m.backs,
		m.sessionsResolved,
		m.resolvedScore,
		m.reconciled,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry, e.g. for tests or extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Hooks returns lifecycle hooks that record into the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnSessionStart: func(_ context.Context, e *domain.SessionEvent) {
			m.sessionsStarted.WithLabelValues(e.VersionID, strconv.FormatBool(e.Offline)).Inc()
		},
		OnResponse: func(_ context.Context, e *domain.SessionEvent) {
			m.responses.WithLabelValues(e.VersionID, strconv.FormatBool(e.Offline)).Inc()
		},
		OnBack: func(_ context.Context, e *domain.SessionEvent) {
			m.backs.WithLabelValues(e.VersionID, strconv.FormatBool(e.Offline)).Inc()
		},
		OnResolve: func(_ context.Context, e *domain.SessionEvent) {
			priority := string(e.Priority)
			m.sessionsResolved.WithLabelValues(priority, strconv.FormatBool(e.Implicit), strconv.FormatBool(e.Offline)).Inc()
			m.resolvedScore.WithLabelValues(priority).Observe(float64(e.Score))
		},
		OnReconcile: func(_ context.Context, e *domain.ReconcileEvent) {
			m.reconciled.WithLabelValues(reconcileOutcome(e)).Inc()
		},
	}
}

func reconcileOutcome(e *domain.ReconcileEvent) string {
	switch {
	case e.Err != nil:
		return string(domain.Kind(e.Err))
	case e.Duplicate:
		return "duplicate"
	}
	return "persisted"
}
