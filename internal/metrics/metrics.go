package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEventsTotal counts provider webhook deliveries by category and outcome.
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "webhook_events_total",
		Help:      "Provider webhook deliveries by event category and outcome.",
	}, []string{"category", "outcome"})

	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Provider webhook handling duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"category"})

	LedgerOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "ledger_operations_total",
		Help:      "Credit ledger operations by action and outcome.",
	}, []string{"action", "outcome"})

	// ConsumptionRejectedTotal counts refused consumption requests by reason.
	ConsumptionRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "consumption_rejected_total",
		Help:      "Credit consumption requests rejected, by reason.",
	}, []string{"reason"})

	LifecycleTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "lifecycle_transitions_total",
		Help:      "Account status transitions by previous and new status.",
	}, []string{"from", "to"})

	ProvisioningTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "provisioning_total",
		Help:      "Tenant provisioning attempts by outcome.",
	}, []string{"outcome"})

	SweepTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "sweep_transitions_total",
		Help:      "Tenants transitioned by periodic sweeps.",
	}, []string{"sweep"})

	ReconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "reconcile_total",
		Help:      "Reconciliation replays of failed webhook events by outcome.",
	}, []string{"outcome"})
)

// JobRunsTotal counts scheduled job executions.
var JobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "billing",
	Name:      "job_runs_total",
	Help:      "Scheduled job runs by job and outcome.",
}, []string{"job", "outcome"})
