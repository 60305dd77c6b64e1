package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookempire_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookempire_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	BooksRequestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookempire_books_requested_total",
			Help: "Accepted book generation requests",
		},
		[]string{"tier"},
	)

	JobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookempire_jobs_completed_total",
			Help: "Finished pipeline attempts by outcome",
		},
		[]string{"status"},
	)

	JobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bookempire_jobs_in_progress",
			Help: "Pipeline jobs currently running",
		},
	)

	JobsRateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bookempire_jobs_rate_limited_total",
			Help: "Job starts deferred by the start-rate limiter",
		},
	)

	HTTPRateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bookempire_http_rate_limited_total",
			Help: "Requests rejected by the per-user rate limiter",
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookempire_pipeline_stage_duration_seconds",
			Help:    "Duration of each generation pipeline stage",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		},
		[]string{"stage"},
	)

	ExternalCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookempire_external_calls_total",
			Help: "Calls to external generation services",
		},
		[]string{"service", "operation", "status"},
	)

	ExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookempire_exports_total",
			Help: "Rendered document exports",
		},
		[]string{"format"},
	)

	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookempire_webhook_events_total",
			Help: "Payment webhook events received",
		},
		[]string{"type"},
	)
)

// ObserveStage records how long a pipeline stage took.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// RecordExternalCall counts one vendor call and its outcome.
func RecordExternalCall(service, operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ExternalCallsTotal.WithLabelValues(service, operation, status).Inc()
}

// Middleware records request counts and latency per route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
