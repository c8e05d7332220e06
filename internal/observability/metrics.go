package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "barlink_http_requests_total",
			Help: "Total number of HTTP requests processed by the coordination service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "barlink_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	hubActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "barlink_hub_active_connections",
			Help: "Number of active hub websocket connections.",
		},
	)
	hubEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "barlink_hub_events_total",
			Help: "Total number of hub events by kind and outcome.",
		},
		[]string{"kind", "event"},
	)
	seatClaimConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "barlink_seat_claim_conflicts_total",
			Help: "Total number of seat claims lost to a concurrent writer.",
		},
	)
	sagaRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "barlink_saga_retries_total",
			Help: "Total number of multi-row write retries by ledger.",
		},
		[]string{"ledger"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "barlink_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		hubActiveConnections,
		hubEventsTotal,
		seatClaimConflictsTotal,
		sagaRetriesTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncHubActive() {
	hubActiveConnections.Inc()
}

func DecHubActive() {
	hubActiveConnections.Dec()
}

func IncHubEvent(kind, event string) {
	hubEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncSeatClaimConflict() {
	seatClaimConflictsTotal.Inc()
}

func IncSagaRetry(ledger string) {
	sagaRetriesTotal.WithLabelValues(ledger).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
