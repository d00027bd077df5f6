package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_jobs_processed_total",
			Help: "Jobs processed by queue and outcome.",
		},
		[]string{"queue", "outcome"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_job_duration_seconds",
			Help:    "Handler duration per queue.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"queue"},
	)

	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_jobs_enqueued_total",
			Help: "Jobs accepted or rejected at enqueue time.",
		},
		[]string{"queue", "result"},
	)

	StalledJobsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_stalled_jobs_recovered_total",
			Help: "Claims whose lease expired and were made reclaimable or dead-lettered.",
		},
		[]string{"queue"},
	)

	RPCAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_rpc_attempts_total",
			Help: "Upstream RPC attempts by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)

	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_ratelimit_decisions_total",
			Help: "Limiter decisions (allowed, denied, fail_open).",
		},
		[]string{"decision"},
	)

	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_webhook_deliveries_total",
			Help: "Webhook delivery attempts by outcome.",
		},
		[]string{"outcome"},
	)
)
