package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "space_booking"

var (
	once sync.Once

	reservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_total",
			Help:      "Reservation attempts by result.",
		},
		[]string{"result"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transitions_total",
			Help:      "Committed booking status transitions by target status.",
		},
		[]string{"status"},
	)

	gatewayCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_calls_total",
			Help:      "Payment gateway calls by operation and result.",
		},
		[]string{"operation", "result"},
	)

	reconcileEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_events_total",
			Help:      "Gateway events by reconcile outcome.",
		},
		[]string{"outcome"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "method", "status"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(reservations, transitions, gatewayCalls, reconcileEvents, httpDuration)
	})
}

// IncReservation counts a reservation attempt ("reserved", "conflict", "invalid", "unavailable", "error")
func IncReservation(result string) {
	reservations.WithLabelValues(result).Inc()
}

// IncTransition counts a committed status change
func IncTransition(status string) {
	transitions.WithLabelValues(status).Inc()
}

// IncGatewayCall counts a gateway call outcome
func IncGatewayCall(operation, result string) {
	gatewayCalls.WithLabelValues(operation, result).Inc()
}

// IncReconcile counts a reconciled gateway event
func IncReconcile(outcome string) {
	reconcileEvents.WithLabelValues(outcome).Inc()
}

// GinMiddleware records request latency by matched route
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpDuration.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
