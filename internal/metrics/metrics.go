package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "slotkeeper"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		},
		[]string{"route", "method", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	reservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_total",
			Help:      "Reservation attempts by outcome.",
		},
		[]string{"result"},
	)

	bookingsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_created_total",
			Help:      "Booking rows committed, counting every recurring session.",
		},
	)

	mutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_mutations_total",
			Help:      "Booking updates and deletes by outcome.",
		},
		[]string{"op", "result"},
	)

	slotQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_queries_total",
			Help:      "Availability queries by outcome.",
		},
		[]string{"result"},
	)

	criticalSection = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "owner_lock_held_seconds",
			Help:      "Time spent inside the per-owner write section.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"backend"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Booking notifications by outcome.",
		},
		[]string{"result"},
	)

	rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by rate limiting.",
		},
		[]string{"scope"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			reservations,
			bookingsCreated,
			mutations,
			slotQueries,
			criticalSection,
			notifications,
			rateLimited,
		)
	})
}

func ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// IncReservation counts one reservation attempt. result is one of
// created, conflict, invalid, error.
func IncReservation(result string) {
	reservations.WithLabelValues(result).Inc()
}

func AddBookingsCreated(n int) {
	bookingsCreated.Add(float64(n))
}

func IncMutation(op, result string) {
	mutations.WithLabelValues(op, result).Inc()
}

func IncSlotQuery(result string) {
	slotQueries.WithLabelValues(result).Inc()
}

func ObserveCriticalSection(backend string, elapsed time.Duration) {
	criticalSection.WithLabelValues(backend).Observe(elapsed.Seconds())
}

func IncNotification(result string) {
	notifications.WithLabelValues(result).Inc()
}

func IncRateLimited(scope string) {
	rateLimited.WithLabelValues(scope).Inc()
}
