package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	captchaGeneratedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slidegate_challenges_generated_total",
		Help: "Total slider challenges issued.",
	})

	captchaVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slidegate_verifications_total",
		Help: "Total verify calls by outcome.",
	}, []string{"result"})

	captchaTokensMintedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slidegate_tokens_minted_total",
		Help: "Total captcha tokens minted.",
	})

	captchaRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slidegate_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	captchaRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "slidegate_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// PrometheusMiddleware returns a Gin middleware that records
// per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		captchaRequestsTotal.WithLabelValues(method, path, status).Inc()
		captchaRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordChallengeGenerated counts an issued challenge.
func RecordChallengeGenerated() {
	captchaGeneratedTotal.Inc()
}

// RecordVerification counts a verify call outcome
// (success, position_mismatch, invalid_or_expired, too_many_attempts, error).
func RecordVerification(result string) {
	captchaVerificationsTotal.WithLabelValues(result).Inc()
}

// RecordTokenMinted counts a minted captcha token.
func RecordTokenMinted() {
	captchaTokensMintedTotal.Inc()
}
