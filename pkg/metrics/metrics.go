// Package metrics holds the process-wide Prometheus collectors shared by the
// worker pool, webhook dispatcher, and event bus. Grounded on the teacher's
// syshealth metrics package: package-level promauto vars registered once at
// import time, scraped via promhttp.Handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsAcquired counts jobs dequeued by the worker pool (C4).
	JobsAcquired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingestcore_jobs_acquired_total",
		Help: "Total number of jobs dequeued by the worker pool",
	})

	// JobsCompleted counts terminal job outcomes by state (completed, failed, dead).
	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingestcore_jobs_completed_total",
		Help: "Total number of jobs reaching a terminal state, by state",
	}, []string{"state"})

	// WorkerIdlePollBackoff observes the backoff duration workers sleep for
	// when the queue is empty, in seconds.
	WorkerIdlePollBackoff = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingestcore_worker_idle_backoff_seconds",
		Help:    "Backoff duration workers sleep for when the queue is empty",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 8),
	})

	// WebhookDeliveries counts webhook delivery outcomes by result.
	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingestcore_webhook_deliveries_total",
		Help: "Total number of webhook deliveries, by outcome (delivered, exhausted)",
	}, []string{"outcome"})

	// WebhookDeliveryAttempts observes the number of attempts a delivery took
	// before succeeding or exhausting its retry schedule.
	WebhookDeliveryAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingestcore_webhook_delivery_attempts",
		Help:    "Number of attempts per webhook delivery",
		Buckets: []float64{1, 2, 3, 4, 5},
	})

	// EventBusDropped counts events dropped from a subscriber's bounded queue
	// under backpressure (drop-oldest).
	EventBusDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingestcore_event_bus_dropped_total",
		Help: "Total number of events dropped from a subscriber queue under backpressure",
	}, []string{"topic"})

	// RateLimitDenied counts requests denied by the rate limiter, by bucket and tier.
	RateLimitDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingestcore_rate_limit_denied_total",
		Help: "Total number of requests denied by the rate limiter, by bucket and tier",
	}, []string{"bucket", "tier"})
)
