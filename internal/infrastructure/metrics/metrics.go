package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SettlementMetrics holds every collector the service exports.
type SettlementMetrics struct {
	// Outcome of each settle call, by channel (webhook, callback, manual)
	SettlementsTotal *prometheus.CounterVec
	// Amount settled, by fee type
	SettledAmountTotal *prometheus.CounterVec

	VerifyDuration *prometheus.HistogramVec

	// External ledger mirror failures after a local commit
	LedgerFailuresTotal *prometheus.CounterVec

	WebhookAuthFailuresTotal prometheus.Counter

	StalePending prometheus.Gauge

	OutboxPublishedTotal *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *SettlementMetrics {
	f := promauto.With(reg)
	return &SettlementMetrics{
		SettlementsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autopay_settlements_total",
				Help: "Settlement attempts by notification channel and outcome",
			},
			[]string{"channel", "outcome"},
		),
		SettledAmountTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autopay_settled_amount_total",
				Help: "Sum of settled amounts by fee type",
			},
			[]string{"fee_type"},
		),
		VerifyDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autopay_gateway_verify_duration_seconds",
				Help:    "Latency of gateway verification calls",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"result"},
		),
		LedgerFailuresTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autopay_ledger_propagation_failures_total",
				Help: "External ledger updates that failed after a local settlement",
			},
			[]string{"operation"},
		),
		WebhookAuthFailuresTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "autopay_webhook_auth_failures_total",
				Help: "Webhook deliveries rejected for a bad verif-hash",
			},
		),
		StalePending: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "autopay_stale_pending_transactions",
				Help: "Pending transactions older than the alert threshold",
			},
		),
		OutboxPublishedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autopay_outbox_messages_total",
				Help: "Outbox relay attempts by result",
			},
			[]string{"result"},
		),
	}
}

// A nil *SettlementMetrics records nothing, so components can run without one.

func (m *SettlementMetrics) RecordSettlement(channel, outcome string) {
	if m == nil {
		return
	}
	m.SettlementsTotal.WithLabelValues(channel, outcome).Inc()
}

func (m *SettlementMetrics) RecordSettledAmount(feeType string, amount int64) {
	if m == nil {
		return
	}
	m.SettledAmountTotal.WithLabelValues(feeType).Add(float64(amount))
}

func (m *SettlementMetrics) RecordVerify(started time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.VerifyDuration.WithLabelValues(result).Observe(time.Since(started).Seconds())
}

func (m *SettlementMetrics) RecordLedgerFailure(operation string) {
	if m == nil {
		return
	}
	m.LedgerFailuresTotal.WithLabelValues(operation).Inc()
}

func (m *SettlementMetrics) RecordWebhookAuthFailure() {
	if m == nil {
		return
	}
	m.WebhookAuthFailuresTotal.Inc()
}

func (m *SettlementMetrics) SetStalePending(n int64) {
	if m == nil {
		return
	}
	m.StalePending.Set(float64(n))
}

func (m *SettlementMetrics) RecordOutbox(result string) {
	if m == nil {
		return
	}
	m.OutboxPublishedTotal.WithLabelValues(result).Inc()
}
