package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learnhub_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "learnhub_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "learnhub_http_requests_in_flight",
			Help: "HTTP requests currently being served.",
		},
	)

	RateLimitRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learnhub_rate_limit_rejections_total",
			Help: "Requests rejected by the per-IP rate limiter, by limiter scope.",
		},
		[]string{"scope"},
	)

	CreditsGrantedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learnhub_credits_granted_total",
			Help: "Credits granted, by credit type.",
		},
		[]string{"credit_type"},
	)

	CreditsConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learnhub_credits_consumed_total",
			Help: "Credits consumed, by the credit type of the entry drawn from.",
		},
		[]string{"credit_type"},
	)

	CreditsExpiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learnhub_credits_expired_total",
			Help: "Credits expired by the sweep, by credit type.",
		},
		[]string{"credit_type"},
	)

	DailyBonusClaimsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "learnhub_daily_bonus_claims_total",
			Help: "Successful daily bonus claims.",
		},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learnhub_notifications_total",
			Help: "Notification dispatch attempts, by channel and outcome.",
		},
		[]string{"channel", "status"},
	)

	AuditEventsPersistedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "learnhub_audit_events_persisted_total",
			Help: "Audit events written to the database.",
		},
	)

	SubscriptionChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learnhub_subscription_changes_total",
			Help: "Subscription history entries written, by action.",
		},
		[]string{"action"},
	)

	DocumentUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learnhub_document_uploads_total",
			Help: "Accepted document uploads; deduplicated is true when the content already existed.",
		},
		[]string{"deduplicated"},
	)

	DocumentSyncTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learnhub_document_sync_transitions_total",
			Help: "Vector sync state transitions, by target status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPRequestsInFlight,
		RateLimitRejectionsTotal,
		CreditsGrantedTotal,
		CreditsConsumedTotal,
		CreditsExpiredTotal,
		DailyBonusClaimsTotal,
		NotificationsTotal,
		AuditEventsPersistedTotal,
		SubscriptionChangesTotal,
		DocumentUploadsTotal,
		DocumentSyncTransitionsTotal,
	)
}
