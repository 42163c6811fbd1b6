// Package metrics defines the Prometheus collectors exported by the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Claim outcomes recorded on ClaimsTotal
const (
	OutcomeCommitted          = "committed"
	OutcomeInvalidID          = "invalid_id"
	OutcomeNotFound           = "not_found"
	OutcomeIncrementFailed    = "increment_failed"
	OutcomeCompensated        = "compensated"
	OutcomeCompensationFailed = "compensation_failed"
)

// Metrics groups the service collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	ClaimsTotal       *prometheus.CounterVec
	PointsAwarded     prometheus.Counter
	RateLimitAllowed  prometheus.Counter
	RateLimitRejected prometheus.Counter
	LedgerDrift       prometheus.Gauge
}

// New creates unregistered collectors
func New() *Metrics {
	return &Metrics{
		ClaimsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: "leaderboard", Name: "claims_total", Help: "Number of claim attempts by outcome."},
			[]string{"outcome"},
		),
		PointsAwarded: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: "leaderboard", Name: "points_awarded_total", Help: "Sum of points awarded by committed claims."},
		),
		RateLimitAllowed: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: "leaderboard", Name: "rate_limit_allowed_total", Help: "Number of claim requests let through by the limiter."},
		),
		RateLimitRejected: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: "leaderboard", Name: "rate_limit_rejected_total", Help: "Number of claim requests rejected by the limiter."},
		),
		LedgerDrift: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: "leaderboard", Name: "ledger_drifted_users", Help: "Users whose total differed from their history sum at the last audit."},
		),
	}
}

// Register adds all collectors to reg
func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(m.ClaimsTotal)
	reg.MustRegister(m.PointsAwarded)
	reg.MustRegister(m.RateLimitAllowed)
	reg.MustRegister(m.RateLimitRejected)
	reg.MustRegister(m.LedgerDrift)
}

// ObserveClaim counts one claim attempt
func (m *Metrics) ObserveClaim(outcome string, points int) {
	if m == nil {
		return
	}
	m.ClaimsTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeCommitted {
		m.PointsAwarded.Add(float64(points))
	}
}

// ObserveRateLimit counts one limiter decision
func (m *Metrics) ObserveRateLimit(allowed bool) {
	if m == nil {
		return
	}
	if allowed {
		m.RateLimitAllowed.Inc()
		return
	}
	m.RateLimitRejected.Inc()
}

// SetLedgerDrift records the number of drifted users found by an audit
func (m *Metrics) SetLedgerDrift(n int) {
	if m == nil {
		return
	}
	m.LedgerDrift.Set(float64(n))
}
