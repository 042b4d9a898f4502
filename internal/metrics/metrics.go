package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerly_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledgerly_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	AdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerly_quota_admissions_total",
			Help: "Admission decisions by outcome and denying limit type.",
		},
		[]string{"decision", "limit_type"},
	)

	QuotaViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerly_quota_violations_total",
			Help: "Recorded quota violations by limit type.",
		},
		[]string{"limit_type"},
	)

	// QuotaInFlight should return to zero whenever no admitted requests are
	// outstanding; a floor that creeps upward under idle traffic means a
	// caller upstream is dropping release calls.
	QuotaInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledgerly_quota_inflight_requests",
			Help: "Admitted requests currently holding a concurrency slot.",
		},
	)

	CounterIncrementDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledgerly_quota_counter_increment_duration_seconds",
			Help:    "Latency of the atomic usage-counter increment.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AdmissionsTotal,
		QuotaViolationsTotal,
		QuotaInFlight,
		CounterIncrementDuration,
	)
}
