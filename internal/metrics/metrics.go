package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tembera_booking"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status class.",
		},
		[]string{"route", "status"},
	)

	bookingsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_created_total",
			Help:      "Bookings created by service type.",
		},
		[]string{"service_type"},
	)

	bookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transitions_total",
			Help:      "Booking status changes by target status.",
		},
		[]string{"status"},
	)

	reconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_reconciliations_total",
			Help:      "Payment reconciliations by entry point and outcome.",
		},
		[]string{"source", "outcome"},
	)

	gatewayCalls = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_seconds",
			Help:      "Payment gateway call latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"gateway", "operation"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications by kind and delivery result.",
		},
		[]string{"kind", "result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, bookingsCreated, bookingTransitions, reconciliations, gatewayCalls, notifications)
	})
}

// IncHTTP counts one served request.
func IncHTTP(route, status string) {
	httpRequests.WithLabelValues(route, status).Inc()
}

// IncBookingCreated counts a stored booking.
func IncBookingCreated(serviceType string) {
	bookingsCreated.WithLabelValues(serviceType).Inc()
}

// IncBookingTransition counts a booking status change.
func IncBookingTransition(status string) {
	bookingTransitions.WithLabelValues(status).Inc()
}

// IncReconciliation counts a reconcile call by outcome.
func IncReconciliation(source, outcome string) {
	reconciliations.WithLabelValues(source, outcome).Inc()
}

// ObserveGateway records how long a gateway call took.
func ObserveGateway(gateway, operation string, seconds float64) {
	gatewayCalls.WithLabelValues(gateway, operation).Observe(seconds)
}

// IncNotification counts a notification delivery attempt.
func IncNotification(kind, result string) {
	notifications.WithLabelValues(kind, result).Inc()
}
