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
			Name: "ember_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat engine.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ember_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ember_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ember_ws_events_total",
			Help: "Total number of websocket lifecycle events.",
		},
		[]string{"kind", "event"},
	)
	messagesAcceptedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ember_messages_accepted_total",
			Help: "Total number of messages accepted into the store.",
		},
		[]string{"channel"},
	)
	messagesRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ember_messages_rejected_total",
			Help: "Total number of rejected sends by reason.",
		},
		[]string{"reason"},
	)
	reaperExpiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ember_reaper_expired_messages_total",
			Help: "Total number of messages removed by the expiry reaper.",
		},
		[]string{"channel"},
	)
	subscriberOverflowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ember_subscriber_overflows_total",
			Help: "Total number of subscribers disconnected for backpressure overflow.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ember_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		messagesAcceptedTotal,
		messagesRejectedTotal,
		reaperExpiredTotal,
		subscriberOverflowsTotal,
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

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncMessageAccepted(channel string) {
	messagesAcceptedTotal.WithLabelValues(channel).Inc()
}

func IncMessageRejected(reason string) {
	messagesRejectedTotal.WithLabelValues(reason).Inc()
}

func IncReaperExpired(channel string) {
	reaperExpiredTotal.WithLabelValues(channel).Inc()
}

func IncSubscriberOverflow() {
	subscriberOverflowsTotal.Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
