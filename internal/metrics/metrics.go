// Package metrics provides Prometheus instrumentation for txgate.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txgate",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "txgate",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// LoginAttemptsTotal counts credential verifications by outcome
	// (valid, invalid, locked, error).
	LoginAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txgate",
			Name:      "login_attempts_total",
			Help:      "Total credential verification attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// LockoutsTotal counts accounts entering lockout.
	LockoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "txgate",
			Name:      "lockouts_total",
			Help:      "Total account lockouts triggered by repeated failures.",
		},
	)

	// StepUpVerificationsTotal counts TOTP verifications by outcome.
	StepUpVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txgate",
			Name:      "step_up_verifications_total",
			Help:      "Total step-up code verifications by outcome.",
		},
		[]string{"outcome"},
	)

	// TransactionsTotal counts created transactions by initial status.
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txgate",
			Name:      "transactions_total",
			Help:      "Total transactions created by initial status.",
		},
		[]string{"status"},
	)

	// TransactionResolutionsTotal counts approve/reject decisions.
	TransactionResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "txgate",
			Name:      "transaction_resolutions_total",
			Help:      "Total pending transaction resolutions by decision.",
		},
		[]string{"decision"},
	)

	// RiskScore observes the distribution of computed risk scores.
	RiskScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "txgate",
			Name:      "risk_score",
			Help:      "Distribution of transaction risk scores.",
			Buckets:   []float64{0, 10, 20, 30, 40, 55, 70, 85, 100},
		},
	)

	// AuditAppendFailuresTotal counts best-effort audit writes that failed.
	// This is the observability channel for the fire-and-forget audit path.
	AuditAppendFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "txgate",
			Name:      "audit_append_failures_total",
			Help:      "Total audit ledger appends that failed and were dropped.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		LoginAttemptsTotal,
		LockoutsTotal,
		StepUpVerificationsTotal,
		TransactionsTotal,
		TransactionResolutionsTotal,
		RiskScore,
		AuditAppendFailuresTotal,
	)
}

// Middleware records request counts and latency per route pattern.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status()),
		).Inc()
		HTTPRequestDuration.WithLabelValues(
			c.Request.Method, path,
		).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
