package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for the run engine and the
// control loop. A nil *Metrics disables instrumentation; callers guard
// every use.
type Metrics struct {
	RunsTotal             *prometheus.CounterVec
	RunDuration           *prometheus.HistogramVec
	TurnsTotal            prometheus.Counter
	OracleRequestsTotal   *prometheus.CounterVec
	StagnationEventsTotal prometheus.Counter
	ReplansTotal          prometheus.Counter
	ActiveRuns            prometheus.Gauge
}

// NewMetrics registers the instruments on reg. A nil registerer returns
// nil, which disables collection.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kiongozi",
			Subsystem: "run",
			Name:      "runs_total",
			Help:      "Completed runs by outcome (satisfied, educated_guess, turn_budget_exhausted, failed, cancelled).",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kiongozi",
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Wall-clock run duration by outcome.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"outcome"}),
		TurnsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kiongozi",
			Subsystem: "run",
			Name:      "turns_total",
			Help:      "Turns consumed across all runs.",
		}),
		OracleRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kiongozi",
			Subsystem: "run",
			Name:      "oracle_requests_total",
			Help:      "Oracle completions by request kind and status.",
		}, []string{"kind", "status"}),
		StagnationEventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kiongozi",
			Subsystem: "run",
			Name:      "stagnation_events_total",
			Help:      "Times the stagnation detector fired.",
		}),
		ReplansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kiongozi",
			Subsystem: "run",
			Name:      "replans_total",
			Help:      "Plan replacements, both competing-plan wins and history re-plans.",
		}),
		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kiongozi",
			Subsystem: "run",
			Name:      "active_runs",
			Help:      "Runs currently executing.",
		}),
	}
	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.TurnsTotal,
		m.OracleRequestsTotal,
		m.StagnationEventsTotal,
		m.ReplansTotal,
		m.ActiveRuns,
	)
	return m
}
