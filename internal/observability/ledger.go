package observability

import "github.com/prometheus/client_golang/prometheus"

// LedgerMetrics records stock ledger activity. It satisfies
// inventory.MetricsRecorder.
type LedgerMetrics struct {
	moves        *prometheus.CounterVec
	moveQty      *prometheus.CounterVec
	failures     *prometheus.CounterVec
	reservations *prometheus.CounterVec
}

func newLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	moves := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_moves_total",
		Help: "Committed stock moves by reason.",
	}, []string{"reason"})
	moveQty := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_move_qty_total",
		Help: "Quantity moved by committed stock moves, by reason.",
	}, []string{"reason"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_failures_total",
		Help: "Failed ledger operations by operation and error kind.",
	}, []string{"op", "kind"})
	reservations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_reservations_total",
		Help: "Reservation status transitions by resulting status.",
	}, []string{"status"})
	registerer.MustRegister(moves, moveQty, failures, reservations)
	return &LedgerMetrics{moves: moves, moveQty: moveQty, failures: failures, reservations: reservations}
}

// MoveApplied counts one committed move.
func (l *LedgerMetrics) MoveApplied(reason string, qty float64) {
	if l == nil {
		return
	}
	l.moves.WithLabelValues(reason).Inc()
	if qty > 0 {
		l.moveQty.WithLabelValues(reason).Add(qty)
	}
}

// ReservationChanged counts reservations that reached status.
func (l *LedgerMetrics) ReservationChanged(status string, count int) {
	if l == nil || count <= 0 {
		return
	}
	l.reservations.WithLabelValues(status).Add(float64(count))
}

// OperationFailed counts a rolled back operation.
func (l *LedgerMetrics) OperationFailed(op, kind string) {
	if l == nil {
		return
	}
	l.failures.WithLabelValues(op, kind).Inc()
}
