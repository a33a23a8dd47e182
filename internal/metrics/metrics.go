// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoecho_jobs_total",
			Help: "Transcription jobs by terminal state, tier and error code",
		},
		[]string{"state", "tier", "code"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autoecho_job_duration_seconds",
			Help:    "Wall time of transcription jobs in seconds",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"state"},
	)

	AudioSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autoecho_audio_duration_seconds",
			Help:    "Measured duration of admitted and rejected audio",
			Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600, 5400, 10800},
		},
		[]string{"tier"},
	)

	EngineActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "autoecho_engine_active",
			Help: "Engine calls currently running",
		},
	)

	BillingEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoecho_billing_events_total",
			Help: "Verified billing events by category and outcome",
		},
		[]string{"category", "outcome"},
	)

	WebhookFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoecho_webhook_failures_total",
			Help: "Webhook deliveries that failed verification or application",
		},
		[]string{"reason"},
	)
)
