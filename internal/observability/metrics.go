package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "orders"

// Metrics groups the service's Prometheus collectors.
type Metrics struct {
	Checkouts            *prometheus.CounterVec
	CheckoutDuration     prometheus.Histogram
	StockReservations    *prometheus.CounterVec
	Compensations        prometheus.Counter
	CompensationFailures prometheus.Counter
	NotificationFailures prometheus.Counter
	ItemTransitions      *prometheus.CounterVec
	Cancellations        prometheus.Counter
	Returns              prometheus.Counter
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Checkouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_total",
			Help:      "Checkout attempts by result.",
		}, []string{"result"}),
		CheckoutDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkout_duration_seconds",
			Help:      "Time spent placing an order.",
			Buckets:   prometheus.DefBuckets,
		}),
		StockReservations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_reservations_total",
			Help:      "Stock reservations by result.",
		}, []string{"result"}),
		Compensations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensations_total",
			Help:      "Reservations released to undo a failed checkout.",
		}),
		CompensationFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensation_failures_total",
			Help:      "Releases that failed while undoing a checkout or a cancellation.",
		}),
		NotificationFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Notifications or domain events that could not be published.",
		}),
		ItemTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_transitions_total",
			Help:      "Order item status transitions by target status.",
		}, []string{"status"}),
		Cancellations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancellations_total",
			Help:      "Orders cancelled by their buyer.",
		}),
		Returns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "returns_total",
			Help:      "Orders returned by their buyer.",
		}),
	}
}
