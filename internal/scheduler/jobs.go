package scheduler

import (
	"context"
	"log/slog"

	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/config"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/logging"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/services"
	"gorm.io/gorm"
)

const (
	JobGraceSweep   = "grace_sweep"
	JobTrialExpiry  = "trial_expiry"
	JobReconcile    = "reconcile"
	JobLogRetention = "log_retention"
)

// BillingJobs wires the periodic billing maintenance tasks.
func BillingJobs(cfg *config.Config, db *gorm.DB, lifecycle *services.LifecycleService, reconciler *services.Reconciler) []Job {
	return []Job{
		{
			Name: JobGraceSweep,
			Spec: cfg.SweepSchedule,
			Run: func(ctx context.Context) error {
				_, err := lifecycle.SweepExpiredGracePeriods(ctx)
				return err
			},
		},
		{
			Name: JobTrialExpiry,
			Spec: cfg.SweepSchedule,
			Run: func(ctx context.Context) error {
				_, err := lifecycle.ExpireTrials(ctx)
				return err
			},
		},
		{
			Name: JobReconcile,
			Spec: cfg.ReconcileSchedule,
			Run: func(ctx context.Context) error {
				report, err := reconciler.Run(ctx)
				if report != nil && (report.Resolved > 0 || report.Failed > 0) {
					slog.Info("reconciliation pass", "resolved", report.Resolved, "failed", report.Failed)
				}
				return err
			},
		},
		{
			Name: JobLogRetention,
			Spec: "@daily",
			Run: func(ctx context.Context) error {
				_, err := logging.PurgeExpired(ctx, db, cfg.LogRetentionDays)
				return err
			},
		},
	}
}
