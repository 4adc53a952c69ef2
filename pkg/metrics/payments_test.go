package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPaymentMetricsCount(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewPaymentMetrics(reg)

	m.IncOutcome("kpay", "webhook", "paid")
	m.IncOutcome("kpay", "webhook", "paid")
	m.IncAmountMismatch("wallet")
	m.SetStaleSessionAge(90 * time.Second)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.outcomes.WithLabelValues("kpay", "webhook", "paid")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.amountMismatch.WithLabelValues("wallet")))
	assert.Equal(t, float64(90), testutil.ToFloat64(m.staleSessionAge))
}

func TestPaymentMetricsNilSafe(t *testing.T) {
	t.Parallel()

	var m *PaymentMetrics
	m.IncOutcome("kpay", "poll", "pending")
	m.IncAmountMismatch("kpay")
	m.ObserveGatewayDuration("kpay", "status", time.Second)
	m.SetStaleSessionAge(0)

	empty := NewPaymentMetrics(nil)
	empty.IncOutcome("", "", "")
}
