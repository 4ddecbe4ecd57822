// Package metrics holds the prometheus collectors of a dro process.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes recorded in dro_runs_total.
const (
	OutcomeCompleted = "completed"
	OutcomeStopped   = "stopped"
	OutcomeFailed    = "failed"
)

// Metrics bundles the collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	evaluations    *prometheus.CounterVec
	cellSteps      prometheus.Counter
	runs           *prometheus.CounterVec
	remoteDuration prometheus.Histogram
	served         *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dro_evaluations_total",
			Help: "Objective evaluations issued by the step optimizer.",
		}, []string{"mode"}),
		cellSteps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dro_controller_steps_total",
			Help: "Controller cell steps taken.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dro_runs_total",
			Help: "Optimization runs by outcome.",
		}, []string{"outcome"}),
		remoteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dro_remote_request_duration_seconds",
			Help:    "Round-trip time of remote objective requests.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		served: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dro_objective_requests_total",
			Help: "Evaluation requests answered by the objective server.",
		}, []string{"transport", "result"}),
	}
	reg.MustRegister(m.evaluations, m.cellSteps, m.runs, m.remoteDuration, m.served)
	return m
}

func (m *Metrics) ObserveEvaluation(mode string) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(mode).Inc()
}

func (m *Metrics) ObserveCellStep() {
	if m == nil {
		return
	}
	m.cellSteps.Inc()
}

func (m *Metrics) ObserveRun(outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRemote(d time.Duration) {
	if m == nil {
		return
	}
	m.remoteDuration.Observe(d.Seconds())
}

// ObserveServed counts a request answered by the objective server. result is
// "value", "stop" or "error".
func (m *Metrics) ObserveServed(transport, result string) {
	if m == nil {
		return
	}
	m.served.WithLabelValues(transport, result).Inc()
}
