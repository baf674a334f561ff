// Package metrics holds the Prometheus collectors of the queue service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "swedbankpay_queue"

var (
	// WebhooksReceived counts callbacks by ingress outcome (queued, ignored, rejected).
	WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhooks_received_total",
		Help:      "Inbound Swedbank Pay callbacks by ingress outcome.",
	}, []string{"outcome"})

	JobsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_enqueued_total",
		Help:      "Jobs written to the job store.",
	})

	// JobsProcessed counts handler results (done, retry).
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_processed_total",
		Help:      "Jobs handled by the runner by result.",
	}, []string{"result"})

	// Runs counts runner invocations by how they ended.
	Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Queue runs by outcome (completed, budget, retries, lock_held, error).",
	}, []string{"outcome"})

	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall clock duration of queue runs.",
		Buckets:   prometheus.DefBuckets,
	})

	PendingJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_jobs",
		Help:      "Jobs in the store as of the last healthcheck.",
	})

	// Reconciliations counts reconcile results by transaction kind and order state result.
	Reconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciliations_total",
		Help:      "Reconciled transactions by kind and result.",
	}, []string{"kind", "result"})

	GatewayErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gateway_errors_total",
		Help:      "Failed Swedbank Pay API calls by operation.",
	}, []string{"operation"})
)
