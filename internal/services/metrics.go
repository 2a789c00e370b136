package services

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"feeledger/internal/core"
)

// Metrics counts ledger operations. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	entriesPosted   *prometheus.CounterVec
	receiptsIssued  prometheus.Counter
	receiptsVoided  prometheus.Counter
	opDuration      *prometheus.HistogramVec
	opErrors        *prometheus.CounterVec
	publishFailures prometheus.Counter
	reg             prometheus.Registerer
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reg: reg,
		entriesPosted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feeledger",
			Name:      "entries_posted_total",
			Help:      "Ledger entries posted, by kind.",
		}, []string{"kind"}),
		receiptsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feeledger",
			Name:      "receipts_issued_total",
			Help:      "Receipts issued.",
		}),
		receiptsVoided: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feeledger",
			Name:      "receipts_voided_total",
			Help:      "Receipts voided.",
		}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "feeledger",
			Name:      "operation_duration_seconds",
			Help:      "Duration of fee service operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		opErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feeledger",
			Name:      "operation_errors_total",
			Help:      "Failed fee service operations, by class of error.",
		}, []string{"op", "class"}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feeledger",
			Name:      "change_publish_failures_total",
			Help:      "Change events that could not be published.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.entriesPosted, m.receiptsIssued, m.receiptsVoided,
			m.opDuration, m.opErrors, m.publishFailures)
	}
	return m
}

// watchCache exposes the fee resolution cache's hit and miss counters.
func (m *Metrics) watchCache(stats func() (hits, misses uint64)) {
	if m == nil || m.reg == nil {
		return
	}
	m.reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "feeledger",
			Name:      "fee_cache_hits_total",
			Help:      "Fee resolutions served from cache.",
		}, func() float64 {
			hits, _ := stats()
			return float64(hits)
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "feeledger",
			Name:      "fee_cache_misses_total",
			Help:      "Fee resolutions computed from the reference tables.",
		}, func() float64 {
			_, misses := stats()
			return float64(misses)
		}),
	)
}

// observe records the duration and outcome of op. It is deferred with a
// pointer to the operation's named error result.
func (m *Metrics) observe(op string, start time.Time, errp *error) {
	if m == nil {
		return
	}
	m.opDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if errp != nil && *errp != nil {
		m.opErrors.WithLabelValues(op, errorClass(*errp)).Inc()
	}
}

func (m *Metrics) entryPosted(kind core.EntryKind) {
	if m != nil {
		m.entriesPosted.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) receiptIssued() {
	if m != nil {
		m.receiptsIssued.Inc()
	}
}

func (m *Metrics) receiptVoided() {
	if m != nil {
		m.receiptsVoided.Inc()
	}
}

func (m *Metrics) publishFailed() {
	if m != nil {
		m.publishFailures.Inc()
	}
}

func errorClass(err error) string {
	switch {
	case core.IsRetryable(err):
		return "busy"
	case core.IsNotFound(err):
		return "not_found"
	case core.IsConflict(err):
		return "conflict"
	case core.IsValidation(err):
		return "validation"
	case errors.Is(err, core.ErrConfigurationMissing), errors.Is(err, core.ErrNotEnrolled):
		return "configuration"
	default:
		return "internal"
	}
}
