package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SecretsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sirr_secrets_active",
			Help: "Current number of non-expired secrets in the store",
		},
	)

	SecretsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sirr_secrets_created_total",
			Help: "Total number of secrets created",
		},
	)

	SecretsBurnedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sirr_secrets_burned_total",
			Help: "Total number of Burn-policy secrets deleted on read exhaustion",
		},
	)

	SecretsSealedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sirr_secrets_sealed_total",
			Help: "Total number of Seal-policy secrets that reached their read budget",
		},
	)

	SecretsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sirr_secrets_expired_total",
			Help: "Total number of secrets removed for having passed their expiry",
		},
	)

	QuotaRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sirr_quota_rejections_total",
			Help: "Total number of writes rejected by the license gate",
		},
	)

	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sirr_api_requests_total",
			Help: "Total number of API requests by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sirr_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sirr_sweep_duration_seconds",
			Help:    "Time taken for a sweep cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(SecretsActive)
	prometheus.MustRegister(SecretsCreatedTotal)
	prometheus.MustRegister(SecretsBurnedTotal)
	prometheus.MustRegister(SecretsSealedTotal)
	prometheus.MustRegister(SecretsExpiredTotal)
	prometheus.MustRegister(QuotaRejectionsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(SweepDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
