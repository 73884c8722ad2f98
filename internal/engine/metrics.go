package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"cadreline/internal/domain"
)

var (
	planTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cadreline",
		Subsystem: "plan",
		Name:      "transitions_total",
		Help:      "Total number of staffing plan status transitions broken down by from/to status.",
	}, []string{"from", "to"})

	planAppliedMoves = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cadreline",
		Subsystem: "plan",
		Name:      "applied_moves_total",
		Help:      "Total number of moves committed to the membership ledger broken down by move type.",
	}, []string{"type"})

	planViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cadreline",
		Subsystem: "plan",
		Name:      "violations_total",
		Help:      "Total number of validation violations reported broken down by code.",
	}, []string{"code"})

	storageRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cadreline",
		Subsystem: "storage",
		Name:      "retries_total",
		Help:      "Total number of transactions re-run after the store was busy broken down by operation.",
	}, []string{"op"})

	planApplyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cadreline",
		Subsystem: "plan",
		Name:      "apply_duration_seconds",
		Help:      "Wall time of plan apply calls broken down by outcome.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})
)

func recordTransition(from, to domain.PlanStatus) {
	planTransitions.WithLabelValues(string(from), string(to)).Inc()
}

func recordAppliedMove(t domain.MoveType) {
	planAppliedMoves.WithLabelValues(string(t)).Inc()
}

func recordViolations(vs []domain.Violation) {
	for _, v := range vs {
		planViolations.WithLabelValues(v.Code).Inc()
	}
}

func recordStorageRetry(op string) {
	if op == "" {
		op = "other"
	}
	storageRetries.WithLabelValues(op).Inc()
}

func recordApplyDuration(start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	planApplyDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}
