package observe

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "support",
		Subsystem: "turn",
		Name:      "total",
		Help:      "Turns handled by route and outcome",
	}, []string{"route", "outcome"})

	turnLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "support",
		Subsystem: "turn",
		Name:      "latency_seconds",
		Help:      "End-to-end turn latency",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
	}, []string{"route"})

	toolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "support",
		Subsystem: "tool",
		Name:      "calls_total",
		Help:      "Tool calls by tool, status and error kind",
	}, []string{"tool", "status", "error_kind"})

	toolLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "support",
		Subsystem: "tool",
		Name:      "latency_seconds",
		Help:      "Tool call latency",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30},
	}, []string{"tool"})

	// Labels: decision (approved, offered, violation)
	commitmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "support",
		Subsystem: "gate",
		Name:      "commitments_total",
		Help:      "Commitment gate decisions by tool",
	}, []string{"tool", "decision"})

	// Labels: oracle (scope, slots, analysis, synthesis)
	oracleFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "support",
		Subsystem: "oracle",
		Name:      "failures_total",
		Help:      "Oracle calls that failed or returned malformed output",
	}, []string{"oracle"})
)

func RecordTurn(route, outcome string, took time.Duration) {
	if route == "" {
		route = "none"
	}
	turnsTotal.WithLabelValues(route, outcome).Inc()
	turnLatencySeconds.WithLabelValues(route).Observe(took.Seconds())
}

func RecordToolCall(tool, status, errorKind string, took time.Duration) {
	toolCallsTotal.WithLabelValues(tool, status, errorKind).Inc()
	toolLatencySeconds.WithLabelValues(tool).Observe(took.Seconds())
}

func RecordCommitment(tool, decision string) {
	commitmentsTotal.WithLabelValues(tool, decision).Inc()
}

func RecordOracleFailure(oracle string) {
	oracleFailuresTotal.WithLabelValues(oracle).Inc()
}
