package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subfleet_transitions_total",
			Help: "Total transition attempts by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
	TransitionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "subfleet_transition_duration_seconds",
			Help:    "Executor call duration in seconds",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"kind"},
	)

	LockAcquireTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subfleet_lock_acquire_total",
			Help: "Lock acquisition attempts by result (won, lost, held, error)",
		},
		[]string{"result"},
	)

	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "subfleet_cycle_duration_seconds",
			Help:    "Worker cycle duration in seconds",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
	)
	RowsDue = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subfleet_rows_due",
			Help: "Rows selected as due in the last cycle, by list",
		},
		[]string{"list"},
	)
	RowsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "subfleet_rows_payment_pending",
			Help: "Rows currently in the payment-pending sub-state",
		},
	)

	SheetCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subfleet_sheet_calls_total",
			Help: "Spreadsheet API calls by operation and status",
		},
		[]string{"op", "status"},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subfleet_notifications_total",
			Help: "Notifications emitted by severity",
		},
		[]string{"severity"},
	)

	BatchTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subfleet_batch_tasks_total",
			Help: "Batch tasks finished by terminal state",
		},
		[]string{"state"},
	)
)

// InitMetrics registers all collectors. Call once per process.
func InitMetrics() {
	prometheus.MustRegister(TransitionsTotal)
	prometheus.MustRegister(TransitionDuration)
	prometheus.MustRegister(LockAcquireTotal)
	prometheus.MustRegister(CycleDuration)
	prometheus.MustRegister(RowsDue)
	prometheus.MustRegister(RowsPending)
	prometheus.MustRegister(SheetCallsTotal)
	prometheus.MustRegister(NotificationsTotal)
	prometheus.MustRegister(BatchTasksTotal)
}
