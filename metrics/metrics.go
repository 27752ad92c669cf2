// Package metrics provides Prometheus metrics for session and entitlement
// operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the session layer.
type Metrics struct {
	enabled bool

	// Authentication metrics
	authRequestsTotal *prometheus.CounterVec
	authFailuresTotal *prometheus.CounterVec

	// Token metrics
	tokenRefreshesTotal *prometheus.CounterVec

	// Quota metrics
	uploadsRecordedTotal prometheus.Counter
	quotaExhaustedTotal  prometheus.Counter

	// Entitlement metrics
	reconciliationsTotal *prometheus.CounterVec
	purchasesTotal       *prometheus.CounterVec
}

// New creates and registers Prometheus metrics.
// If enabled is false, returns a no-op Metrics instance.
func New(enabled bool) *Metrics {
	m := &Metrics{enabled: enabled}

	if !enabled {
		return m
	}

	m.authRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_auth_requests_total",
		Help: "Total authentication operations",
	}, []string{"op"})

	m.authFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_auth_failures_total",
		Help: "Total failed authentication operations",
	}, []string{"op", "reason"})

	m.tokenRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_token_refreshes_total",
		Help: "Total token refresh attempts",
	}, []string{"result"})

	m.uploadsRecordedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_uploads_recorded_total",
		Help: "Total uploads recorded against the trial quota",
	})

	m.quotaExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_quota_exhausted_total",
		Help: "Total upload attempts rejected at the quota limit",
	})

	m.reconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_reconciliations_total",
		Help: "Total entitlement reconciliation runs",
	}, []string{"plan"})

	m.purchasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_purchases_total",
		Help: "Total purchase attempts",
	}, []string{"outcome"})

	return m
}

// RecordAuthSuccess records a successful authentication operation.
func (m *Metrics) RecordAuthSuccess(op string) {
	if !m.enabled {
		return
	}
	m.authRequestsTotal.WithLabelValues(op).Inc()
}

// RecordAuthFailure records a failed authentication operation.
func (m *Metrics) RecordAuthFailure(op, reason string) {
	if !m.enabled {
		return
	}
	m.authRequestsTotal.WithLabelValues(op).Inc()
	m.authFailuresTotal.WithLabelValues(op, reason).Inc()
}

// RecordTokenRefresh records a token refresh attempt result.
func (m *Metrics) RecordTokenRefresh(result string) {
	if !m.enabled {
		return
	}
	m.tokenRefreshesTotal.WithLabelValues(result).Inc()
}

// RecordUpload records one upload counted against the quota.
func (m *Metrics) RecordUpload() {
	if !m.enabled {
		return
	}
	m.uploadsRecordedTotal.Inc()
}

// RecordQuotaExhausted records an upload attempt rejected at the limit.
func (m *Metrics) RecordQuotaExhausted() {
	if !m.enabled {
		return
	}
	m.quotaExhaustedTotal.Inc()
}

// RecordReconciliation records one reconciliation run and its resulting plan.
func (m *Metrics) RecordReconciliation(plan string) {
	if !m.enabled {
		return
	}
	m.reconciliationsTotal.WithLabelValues(plan).Inc()
}

// RecordPurchase records a purchase attempt outcome.
func (m *Metrics) RecordPurchase(outcome string) {
	if !m.enabled {
		return
	}
	m.purchasesTotal.WithLabelValues(outcome).Inc()
}
