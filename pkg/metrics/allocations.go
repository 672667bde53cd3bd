package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// namespace prefixes every metric this service exports.
const namespace = "rentledger"

// AllocationMetrics records payment allocation outcomes.
type AllocationMetrics struct {
	applied   *prometheus.CounterVec
	conflicts prometheus.Counter
	amounts   prometheus.Histogram
}

// NewAllocationMetrics registers the allocation metrics on the provided registerer.
func NewAllocationMetrics(reg prometheus.Registerer) *AllocationMetrics {
	if reg == nil {
		return &AllocationMetrics{}
	}
	applied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_allocations_total",
		Help:      "Payment allocation attempts by outcome.",
	}, []string{"outcome"})
	conflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_allocation_conflicts_total",
		Help:      "Allocations retried or skipped due to concurrent balance changes.",
	})
	amounts := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "payment_allocation_amount_cents",
		Help:      "Applied allocation amounts in cents.",
		Buckets:   prometheus.ExponentialBuckets(1000, 4, 8),
	})
	reg.MustRegister(applied, conflicts, amounts)
	return &AllocationMetrics{
		applied:   applied,
		conflicts: conflicts,
		amounts:   amounts,
	}
}

// ObserveApplied records one successful allocation.
func (a *AllocationMetrics) ObserveApplied(amountCents int64) {
	if a == nil || a.applied == nil {
		return
	}
	a.applied.WithLabelValues("applied").Inc()
	a.amounts.Observe(float64(amountCents))
}

// IncSkipped counts an invoice skipped inside a multi-invoice allocation.
func (a *AllocationMetrics) IncSkipped() {
	if a == nil || a.applied == nil {
		return
	}
	a.applied.WithLabelValues("skipped").Inc()
}

// IncConflict counts a concurrent-mutation conflict.
func (a *AllocationMetrics) IncConflict() {
	if a == nil || a.conflicts == nil {
		return
	}
	a.conflicts.Inc()
}
