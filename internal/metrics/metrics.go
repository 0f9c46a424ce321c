package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metering_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "metering_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	VoiceConsumeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metering_voice_consume_total",
			Help: "Voice consumption attempts by outcome (allowed, denied, conflict).",
		},
		[]string{"result"},
	)

	TextIncrementTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metering_text_increment_total",
			Help: "Text message increments by outcome (allowed, denied, conflict).",
		},
		[]string{"result"},
	)

	RechargesAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metering_recharges_applied_total",
			Help: "Recharges successfully applied, by type.",
		},
		[]string{"type"},
	)

	QuotaConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "metering_quota_version_conflicts_total",
			Help: "Optimistic-concurrency conflicts on quota writes (each is retried).",
		},
	)

	RechargesExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "metering_recharges_expired_total",
			Help: "Active recharges flipped to expired by the periodic sweep.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		VoiceConsumeTotal,
		TextIncrementTotal,
		RechargesAppliedTotal,
		QuotaConflictsTotal,
		RechargesExpiredTotal,
	)
}
