package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessiond",
			Name:      "operations_total",
			Help:      "Engine operations by name and result.",
		},
		[]string{"op", "result"},
	)

	totalHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sessiond",
			Name:      "total_held",
			Help:      "Sum of all currently escrowed value.",
		},
	)

	ledgerBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sessiond",
			Name:      "ledger_balance",
			Help:      "Actual balance of the engine escrow account.",
		},
	)

	openDisputes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sessiond",
			Name:      "open_disputes",
			Help:      "Bookings currently in disputed status.",
		},
	)

	domainEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sessiond",
			Name:      "events_total",
			Help:      "Engine events published on the in-process bus.",
		},
		[]string{"event"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(operations, totalHeld, ledgerBalance, openDisputes, domainEvents)
	})
}

// IncOp increments the operation counter for an op/result pair.
func IncOp(op, result string) {
	operations.WithLabelValues(op, result).Inc()
}

// SetLedger updates the held/balance gauges.
func SetLedger(held, balance int64) {
	totalHeld.Set(float64(held))
	ledgerBalance.Set(float64(balance))
}

// IncEvent increments the published-event counter for an event type.
func IncEvent(eventType string) {
	domainEvents.WithLabelValues(eventType).Inc()
}

// SetOpenDisputes updates the open-dispute gauge.
func SetOpenDisputes(n int64) {
	openDisputes.Set(float64(n))
}
