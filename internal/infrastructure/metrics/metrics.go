package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

var (
	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "timebank",
			Name:      "session_transitions_total",
			Help:      "Session lifecycle operations by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	CreditsMoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "timebank",
			Name:      "credits_moved_total",
			Help:      "Credits written to the transaction log, by kind.",
		},
		[]string{"kind"},
	)

	SweepProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "timebank",
			Name:      "sweep_sessions_total",
			Help:      "Sessions handled by the sweep job.",
		},
		[]string{"action", "outcome"},
	)

	AuditDiscrepancies = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "timebank",
			Name:      "audit_discrepancies",
			Help:      "Discrepancies found by the last ledger audit.",
		},
	)

	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "timebank",
			Name:      "outbox_published_total",
			Help:      "Outbox messages handed to Kafka, by outcome.",
		},
		[]string{"outcome"},
	)
)

// ObserveTransition counts one lifecycle operation.
func ObserveTransition(operation string, err error, rejected func(error) bool) {
	outcome := OutcomeOK
	switch {
	case err == nil:
	case rejected != nil && rejected(err):
		outcome = OutcomeRejected
	default:
		outcome = OutcomeError
	}
	SessionTransitions.WithLabelValues(operation, outcome).Inc()
}
