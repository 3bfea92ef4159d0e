package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_created_total", Help: "Total ride requests created"})
	RidesExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_expired_total", Help: "Total unmatched ride requests expired by the reaper"})
	MatchQueriesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "match_queries_total", Help: "Total nearby-driver queries served"})
	DriversOnline     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "drivers_online", Help: "Drivers currently online"})

	AcceptAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "accept_attempts_total", Help: "Ride acceptance attempts by outcome"},
		[]string{"outcome"}, // won, conflict, unavailable, error
	)

	BroadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "ws_broadcasts_total", Help: "Group broadcast messages sent to live sockets"})

	PushSentTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "push_sent_total", Help: "Push notifications delivered to the provider"})
	PushRetries   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "push_retries_total", Help: "Push delivery retries"})
	PushDropped   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "push_abandoned_total", Help: "Push deliveries abandoned after exhausting retries"})
	PushDeduped   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "push_deduplicated_total", Help: "Push sends skipped by the dedup window"})
	TokensCleared = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "push_tokens_cleared_total", Help: "Push tokens invalidated after permanent provider rejection"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
