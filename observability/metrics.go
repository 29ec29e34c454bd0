package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// CreditMetrics records ledger activity: local spends, escrow refreshes,
// reconciliation rounds, and overdraft handling.
type CreditMetrics struct {
	spends             *prometheus.CounterVec
	spendDuration      prometheus.Histogram
	refreshes          *prometheus.CounterVec
	reconciliations    *prometheus.CounterVec
	overdraftsDetected prometheus.Counter
	resolutions        *prometheus.CounterVec
}

var (
	creditMetricsOnce sync.Once
	creditRegistry    *CreditMetrics
)

// Credit returns the lazily-initialised metrics registry for the credit
// module. Collectors are registered with the default prometheus registerer on
// first use.
func Credit() *CreditMetrics {
	creditMetricsOnce.Do(func() {
		creditRegistry = &CreditMetrics{
			spends: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "creditmesh",
				Subsystem: "credit",
				Name:      "spends_total",
				Help:      "Total local spend attempts segmented by outcome.",
			}, []string{"outcome"}),
			spendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "creditmesh",
				Subsystem: "credit",
				Name:      "spend_duration_seconds",
				Help:      "Latency distribution for the local spend fast path.",
				Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 12),
			}),
			refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "creditmesh",
				Subsystem: "credit",
				Name:      "escrow_refreshes_total",
				Help:      "Total escrow refresh requests segmented by outcome.",
			}, []string{"outcome"}),
			reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "creditmesh",
				Subsystem: "credit",
				Name:      "reconciliations_total",
				Help:      "Total reconciliation rounds segmented by outcome.",
			}, []string{"outcome"}),
			overdraftsDetected: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "creditmesh",
				Subsystem: "credit",
				Name:      "overdrafts_detected_total",
				Help:      "Total overdrafts reported by reconciliation.",
			}),
			resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "creditmesh",
				Subsystem: "credit",
				Name:      "overdraft_resolutions_total",
				Help:      "Total applied overdraft resolutions segmented by strategy.",
			}, []string{"strategy"}),
		}
		prometheus.MustRegister(
			creditRegistry.spends,
			creditRegistry.spendDuration,
			creditRegistry.refreshes,
			creditRegistry.reconciliations,
			creditRegistry.overdraftsDetected,
			creditRegistry.resolutions,
		)
	})
	return creditRegistry
}

// ObserveSpend records one local spend attempt and its latency.
func (m *CreditMetrics) ObserveSpend(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.spends.WithLabelValues(outcome).Inc()
	m.spendDuration.Observe(seconds)
}

// IncRefresh records one escrow refresh attempt.
func (m *CreditMetrics) IncRefresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

// IncReconciliation records one reconciliation round.
func (m *CreditMetrics) IncReconciliation(outcome string) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(outcome).Inc()
}

// AddOverdrafts records overdrafts reported by a reconciliation round.
func (m *CreditMetrics) AddOverdrafts(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.overdraftsDetected.Add(float64(n))
}

// IncResolution records one applied overdraft resolution.
func (m *CreditMetrics) IncResolution(strategy string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(strategy).Inc()
}
