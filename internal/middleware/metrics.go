package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestDuration tracks request latency by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "path", "status"},
	)

	// CommandsTotal counts commands handled by the sequencer by kind and outcome.
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "l2book_commands_total",
			Help: "Total number of commands by kind and result",
		},
		[]string{"kind", "result"},
	)

	// CommandDuration tracks how long a command waits in queue plus applies.
	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "l2book_command_duration_seconds",
			Help:    "Command submit-to-reply latency in seconds",
			Buckets: []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
		[]string{"kind"},
	)

	// OrderBookDepth tracks the number of price levels per side.
	OrderBookDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "l2book_orderbook_depth",
			Help: "Current number of price levels",
		},
		[]string{"side"},
	)

	// RestingOrders tracks the number of resting orders.
	RestingOrders = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "l2book_resting_orders",
			Help: "Current number of resting orders",
		},
	)

	// SequencerSeq tracks the last applied global mutation sequence number.
	SequencerSeq = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "l2book_sequencer_seq",
			Help: "Last applied mutation sequence number",
		},
	)

	// SequencerQueueLength tracks commands waiting for the sequencer.
	SequencerQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "l2book_sequencer_queue_length",
			Help: "Commands waiting in the sequencer inbound queue",
		},
	)

	// SessionsActive tracks connected sessions.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "l2book_sessions_active",
			Help: "Currently connected sessions",
		},
	)

	// SessionsClosed counts closed sessions by reason.
	SessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "l2book_sessions_closed_total",
			Help: "Total number of closed sessions by reason",
		},
		[]string{"reason"},
	)

	// Subscribers tracks sessions subscribed to deltas.
	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "l2book_subscribers",
			Help: "Sessions currently subscribed to level-2 deltas",
		},
	)

	// DeltasPublished counts level-2 deltas fanned out.
	DeltasPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "l2book_deltas_published_total",
			Help: "Total number of level-2 deltas published",
		},
	)

	// SinkDrops counts deltas dropped by slow external sinks.
	SinkDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "l2book_sink_drops_total",
			Help: "Deltas dropped because a sink buffer was full",
		},
		[]string{"sink"},
	)
)

// PrometheusMiddleware records request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start).Seconds()

		HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(c.Writer.Status()),
		).Observe(duration)
	}
}
