package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics records gateway traffic and reconciliation outcomes.
//
// payment_amount_mismatch_total exists because an amount mismatch parks the
// session in `initiated` with no automatic re-check; operators alert on this
// counter instead.
type PaymentMetrics struct {
	outcomes        *prometheus.CounterVec
	amountMismatch  *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	staleSessionAge prometheus.Gauge
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_outcomes_total",
		Help: "Normalized payment confirmation outcomes by gateway and channel.",
	}, []string{"gateway", "channel", "outcome"})
	amountMismatch := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_amount_mismatch_total",
		Help: "Confirmations rejected because the paid amount missed the session total.",
	}, []string{"gateway"})
	gatewayDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_duration_seconds",
		Help:    "Duration of outbound gateway calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"gateway", "op"})
	staleSessionAge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "checkout_sessions_stale_age_seconds",
		Help: "Age of the oldest session still in the initiated state.",
	})
	reg.MustRegister(outcomes, amountMismatch, gatewayDuration, staleSessionAge)
	return &PaymentMetrics{
		outcomes:        outcomes,
		amountMismatch:  amountMismatch,
		gatewayDuration: gatewayDuration,
		staleSessionAge: staleSessionAge,
	}
}

// IncOutcome counts one reconciliation outcome.
func (p *PaymentMetrics) IncOutcome(gateway, channel, outcome string) {
	if p == nil || p.outcomes == nil {
		return
	}
	p.outcomes.WithLabelValues(normalizeLabel(gateway), normalizeLabel(channel), normalizeLabel(outcome)).Inc()
}

// IncAmountMismatch counts one amount-gate rejection.
func (p *PaymentMetrics) IncAmountMismatch(gateway string) {
	if p == nil || p.amountMismatch == nil {
		return
	}
	p.amountMismatch.WithLabelValues(normalizeLabel(gateway)).Inc()
}

// ObserveGatewayDuration records the duration of one outbound gateway call.
func (p *PaymentMetrics) ObserveGatewayDuration(gateway, op string, duration time.Duration) {
	if p == nil || p.gatewayDuration == nil {
		return
	}
	p.gatewayDuration.WithLabelValues(normalizeLabel(gateway), normalizeLabel(op)).Observe(duration.Seconds())
}

// SetStaleSessionAge publishes the age of the oldest initiated session.
func (p *PaymentMetrics) SetStaleSessionAge(age time.Duration) {
	if p == nil || p.staleSessionAge == nil {
		return
	}
	p.staleSessionAge.Set(age.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
