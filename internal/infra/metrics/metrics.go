// Package metrics defines the Prometheus collectors of the grant lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Transition outcomes.
const (
	OutcomeApplied = "applied"
	OutcomeNoop    = "noop"
	OutcomeError   = "error"
	OutcomeDenied  = "denied"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Transitions         *prometheus.CounterVec
	ConstraintFailures  *prometheus.CounterVec
	SideEffectFailures  *prometheus.CounterVec
	SweepDuration       *prometheus.HistogramVec
	SweepProcessedGrant *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "access_grant_transitions_total",
			Help: "Grant lifecycle transitions by outcome.",
		}, []string{"transition", "outcome"}),
		ConstraintFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "access_grant_constraint_violations_total",
			Help: "Constraint violations seen while creating grants.",
		}, []string{"constraint"}),
		SideEffectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "access_grant_side_effect_failures_total",
			Help: "Post-commit side effects (mail, roles, push, publishing) that failed.",
		}, []string{"step"}),
		SweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "access_grant_sweep_duration_seconds",
			Help:    "Duration of background sweeps.",
			Buckets: prometheus.DefBuckets,
		}, []string{"sweep"}),
		SweepProcessedGrant: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "access_grant_sweep_grants_total",
			Help: "Grants handled by background sweeps.",
		}, []string{"sweep", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.Transitions, m.ConstraintFailures, m.SideEffectFailures, m.SweepDuration, m.SweepProcessedGrant)
	}
	return m
}

func (m *Metrics) Transition(transition, outcome string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(transition, outcome).Inc()
}

func (m *Metrics) ConstraintViolation(constraint string) {
	if m == nil {
		return
	}
	m.ConstraintFailures.WithLabelValues(constraint).Inc()
}

func (m *Metrics) SideEffectFailed(step string) {
	if m == nil {
		return
	}
	m.SideEffectFailures.WithLabelValues(step).Inc()
}

func (m *Metrics) SweepObserved(sweep string, seconds float64) {
	if m == nil {
		return
	}
	m.SweepDuration.WithLabelValues(sweep).Observe(seconds)
}

func (m *Metrics) SweepGrant(sweep, outcome string) {
	if m == nil {
		return
	}
	m.SweepProcessedGrant.WithLabelValues(sweep, outcome).Inc()
}
