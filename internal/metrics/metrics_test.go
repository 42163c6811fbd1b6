package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveClaim(t *testing.T) {
	m := New()
	m.ObserveClaim(OutcomeCommitted, 7)
	m.ObserveClaim(OutcomeCommitted, 3)
	m.ObserveClaim(OutcomeCompensated, 5)

	require.Equal(t, 2.0, testutil.ToFloat64(m.ClaimsTotal.WithLabelValues(OutcomeCommitted)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ClaimsTotal.WithLabelValues(OutcomeCompensated)))
	require.Equal(t, 10.0, testutil.ToFloat64(m.PointsAwarded))
}

func TestObserveRateLimit(t *testing.T) {
	m := New()
	m.ObserveRateLimit(true)
	m.ObserveRateLimit(false)
	m.ObserveRateLimit(false)

	require.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitAllowed))
	require.Equal(t, 2.0, testutil.ToFloat64(m.RateLimitRejected))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ObserveClaim(OutcomeCommitted, 1)
		m.ObserveRateLimit(true)
		m.SetLedgerDrift(3)
	})
}

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New()
	m.Register(reg)
	m.SetLedgerDrift(2)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
	require.Equal(t, 2.0, testutil.ToFloat64(m.LedgerDrift))
}
