// Package metrics provides Prometheus instrumentation for Keysmith.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the policy engine.
type Metrics struct {
	registry *prometheus.Registry

	// EvaluationsTotal counts policy evaluations by outcome.
	EvaluationsTotal *prometheus.CounterVec

	// KeysAutoDisabledTotal counts keys disabled for inactivity.
	KeysAutoDisabledTotal prometheus.Counter

	// KeysReactivatedTotal counts key reactivations by path (sweep, login).
	KeysReactivatedTotal *prometheus.CounterVec

	// SweepRunsTotal counts completed reactivation sweep runs.
	SweepRunsTotal prometheus.Counter

	// SweepUserErrorsTotal counts per-user reactivation failures during sweeps.
	SweepUserErrorsTotal prometheus.Counter

	// SweepLastRunTime is the wall-clock time of the last sweep run.
	SweepLastRunTime prometheus.Gauge

	// SweepDuration observes sweep run durations.
	SweepDuration prometheus.Histogram

	// UpstreamRequestsTotal counts remote key service calls by operation and result.
	UpstreamRequestsTotal *prometheus.CounterVec

	// UpstreamRequestDuration observes remote key service call latency.
	UpstreamRequestDuration *prometheus.HistogramVec
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		EvaluationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "keysmith_evaluations_total",
			Help: "Policy evaluations by outcome.",
		}, []string{"outcome"}),

		KeysAutoDisabledTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "keysmith_keys_auto_disabled_total",
			Help: "Keys disabled for inactivity.",
		}),

		KeysReactivatedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "keysmith_keys_reactivated_total",
			Help: "Key reactivations by path.",
		}, []string{"path"}),

		SweepRunsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "keysmith_sweep_runs_total",
			Help: "Completed reactivation sweep runs.",
		}),

		SweepUserErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "keysmith_sweep_user_errors_total",
			Help: "Per-user reactivation failures during sweeps.",
		}),

		SweepLastRunTime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "keysmith_sweep_last_run_timestamp_seconds",
			Help: "Wall-clock time of the last sweep run.",
		}),

		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "keysmith_sweep_duration_seconds",
			Help:    "Reactivation sweep run duration.",
			Buckets: prometheus.DefBuckets,
		}),

		UpstreamRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "keysmith_upstream_requests_total",
			Help: "Remote key service calls by operation and result.",
		}, []string{"op", "result"}),

		UpstreamRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keysmith_upstream_request_duration_seconds",
			Help:    "Remote key service call latency by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}
}

// Handler returns an HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordUpstreamRequest records one remote key service call.
func (m *Metrics) RecordUpstreamRequest(op string, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.UpstreamRequestsTotal.WithLabelValues(op, result).Inc()
	m.UpstreamRequestDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordSweep records a completed sweep run.
func (m *Metrics) RecordSweep(duration time.Duration, reactivated, errors int) {
	m.SweepRunsTotal.Inc()
	m.SweepDuration.Observe(duration.Seconds())
	m.SweepLastRunTime.SetToCurrentTime()
	m.KeysReactivatedTotal.WithLabelValues("sweep").Add(float64(reactivated))
	m.SweepUserErrorsTotal.Add(float64(errors))
}
