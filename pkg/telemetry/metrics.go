package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the transition engine. A nil
// *Metrics is a valid no-op recorder, so callers never need to guard their
// instrumentation sites.
type Metrics struct {
	config MetricsConfig

	transitionsStarted   *prometheus.CounterVec
	transitionsCompleted *prometheus.CounterVec
	transitionDuration   prometheus.Histogram
	abortsRecorded       *prometheus.CounterVec

	actionsDispatched *prometheus.CounterVec
	actionsCompleted  *prometheus.CounterVec
	timerExpiries     *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "openpacer"
	}

	registry := prometheus.NewRegistry()
	m := &Metrics{
		config:   cfg,
		registry: registry,

		transitionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_started_total",
				Help:      "Transition graphs installed for dispatch.",
			},
			[]string{"source"},
		),
		transitionsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_completed_total",
				Help:      "Transitions that reached completion.",
			},
			[]string{"aborted", "completion_action"},
		),
		transitionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transition_duration_seconds",
				Help:      "Wall-clock duration of completed transitions.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		abortsRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "aborts_recorded_total",
				Help:      "Abort requests that won the priority reduction.",
			},
			[]string{"priority"},
		),
		actionsDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_dispatched_total",
				Help:      "Actions dispatched, by task and pseudo flag.",
			},
			[]string{"task", "pseudo"},
		),
		actionsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_completed_total",
				Help:      "Action completion reports, by task and outcome.",
			},
			[]string{"task", "success"},
		),
		timerExpiries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "timer_expiries_total",
				Help:      "Timer expiries delivered as abort requests.",
			},
			[]string{"scope"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.transitionsStarted,
		m.transitionsCompleted,
		m.transitionDuration,
		m.abortsRecorded,
		m.actionsDispatched,
		m.actionsCompleted,
		m.timerExpiries,
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// TransitionStarted records a newly installed transition graph.
func (m *Metrics) TransitionStarted(source string) {
	if m == nil {
		return
	}
	m.transitionsStarted.WithLabelValues(source).Inc()
}

// TransitionCompleted records a transition reaching completion.
func (m *Metrics) TransitionCompleted(aborted bool, completionAction string, seconds float64) {
	if m == nil {
		return
	}
	m.transitionsCompleted.WithLabelValues(boolLabel(aborted), completionAction).Inc()
	m.transitionDuration.Observe(seconds)
}

// AbortRecorded records an abort request winning the priority reduction.
func (m *Metrics) AbortRecorded(priority string) {
	if m == nil {
		return
	}
	m.abortsRecorded.WithLabelValues(priority).Inc()
}

// ActionDispatched records an action dispatch.
func (m *Metrics) ActionDispatched(task string, pseudo bool) {
	if m == nil {
		return
	}
	m.actionsDispatched.WithLabelValues(task, boolLabel(pseudo)).Inc()
}

// ActionCompleted records a completion report.
func (m *Metrics) ActionCompleted(task string, success bool) {
	if m == nil {
		return
	}
	m.actionsCompleted.WithLabelValues(task, boolLabel(success)).Inc()
}

// TimerExpired records a timer expiry for the given scope.
func (m *Metrics) TimerExpired(scope string) {
	if m == nil {
		return
	}
	if scope != "transition" {
		scope = "action"
	}
	m.timerExpiries.WithLabelValues(scope).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
