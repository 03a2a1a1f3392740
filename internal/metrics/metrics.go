// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the payment engine.
type Metrics struct {
	PaymentsAdmitted *prometheus.CounterVec
	PaymentsRejected *prometheus.CounterVec
	TransferDuration *prometheus.HistogramVec
	AllowanceUpdates *prometheus.CounterVec
	WhitelistSize    prometheus.Gauge
	WhitelistToggles *prometheus.CounterVec
	PoliciesCreated  prometheus.Counter
}

// New creates and registers all collectors on the default registry.
func New() *Metrics {
	return &Metrics{
		PaymentsAdmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subpay_payments_admitted_total",
				Help: "Payments that passed all guards and settled on the external ledger",
			},
			[]string{"agent"},
		),
		PaymentsRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subpay_payments_rejected_total",
				Help: "Payment attempts aborted, by failing guard",
			},
			[]string{"agent", "reason"},
		),
		TransferDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "subpay_transfer_duration_seconds",
				Help:    "Latency of the external ledger transfer call",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"agent"},
		),
		AllowanceUpdates: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subpay_allowance_updates_total",
				Help: "Allowance bridge operations, by direction and outcome",
			},
			[]string{"direction", "outcome"},
		),
		WhitelistSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "subpay_global_whitelist_size",
				Help: "Current member count of the global payee whitelist",
			},
		),
		WhitelistToggles: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subpay_global_whitelist_toggles_total",
				Help: "Successful global whitelist transitions",
			},
			[]string{"state"}, // enabled, disabled
		),
		PoliciesCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "subpay_policies_created_total",
				Help: "Policies written through the registry",
			},
		),
	}
}

// RecordAdmitted counts a settled payment and its transfer latency.
func (m *Metrics) RecordAdmitted(agent string, transferSeconds float64) {
	m.PaymentsAdmitted.WithLabelValues(agent).Inc()
	m.TransferDuration.WithLabelValues(agent).Observe(transferSeconds)
}

// RecordRejected counts an aborted payment attempt by guard code.
func (m *Metrics) RecordRejected(agent, reason string) {
	m.PaymentsRejected.WithLabelValues(agent, reason).Inc()
}

// RecordAllowance counts an allowance bridge operation.
func (m *Metrics) RecordAllowance(direction string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.AllowanceUpdates.WithLabelValues(direction, outcome).Inc()
}

// RecordWhitelistToggle counts a successful global whitelist transition and
// tracks the resulting set size.
func (m *Metrics) RecordWhitelistToggle(enabled bool) {
	state := "disabled"
	if enabled {
		state = "enabled"
		m.WhitelistSize.Inc()
	} else {
		m.WhitelistSize.Dec()
	}
	m.WhitelistToggles.WithLabelValues(state).Inc()
}

// RecordPolicyCreated counts a policy written through the registry.
func (m *Metrics) RecordPolicyCreated() {
	m.PoliciesCreated.Inc()
}
