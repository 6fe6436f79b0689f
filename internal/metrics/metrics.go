// Package metrics exposes Prometheus instrumentation for the escrow.
package metrics

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"vote-escrow/internal/amount"
)

var (
	// operations counts lifecycle operations by kind and outcome.
	// Labels: kind (create, increase, ...), result (ok, rejected, failed)
	operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vecore",
		Subsystem: "escrow",
		Name:      "operations_total",
		Help:      "Lifecycle operations by kind and result",
	}, []string{"kind", "result"})

	// operationLatency measures the full validate-to-commit time of an operation.
	operationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vecore",
		Subsystem: "escrow",
		Name:      "operation_duration_seconds",
		Help:      "Lifecycle operation latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"kind"})

	// catchUpPoints counts global points materialised by catch-up.
	catchUpPoints = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vecore",
		Subsystem: "ledger",
		Name:      "catchup_points_total",
		Help:      "Global epoch points written by catch-up",
	})

	// compensations counts collaborator effects undone after a failed operation.
	compensations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vecore",
		Subsystem: "escrow",
		Name:      "compensations_total",
		Help:      "Collaborator effects rolled back by status",
	}, []string{"status"})

	// totalWeight is the aggregate weight observed at the last query, in whole tokens.
	totalWeight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vecore",
		Subsystem: "ledger",
		Name:      "total_weight",
		Help:      "Aggregate voting weight at the latest observation",
	})

	// globalEpoch tracks the length of the global history.
	globalEpoch = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vecore",
		Subsystem: "ledger",
		Name:      "global_epoch",
		Help:      "Sequence number of the latest global checkpoint",
	})
)

// RecordOperation records the outcome and latency of a lifecycle operation.
func RecordOperation(kind, result string, durationSec float64) {
	operations.WithLabelValues(kind, result).Inc()
	operationLatency.WithLabelValues(kind).Observe(durationSec)
}

// RecordCatchUp adds materialised catch-up points.
func RecordCatchUp(points int) {
	if points > 0 {
		catchUpPoints.Add(float64(points))
	}
}

// RecordCompensation records one rollback step.
func RecordCompensation(ok bool) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	compensations.WithLabelValues(status).Inc()
}

// SetTotalWeight publishes the aggregate weight scaled down by 10^decimals.
func SetTotalWeight(weight *big.Int, decimals int32) {
	totalWeight.Set(amount.ToDecimal(weight, decimals).InexactFloat64())
}

// SetGlobalEpoch publishes the latest global sequence number.
func SetGlobalEpoch(epoch uint64) {
	globalEpoch.Set(float64(epoch))
}
