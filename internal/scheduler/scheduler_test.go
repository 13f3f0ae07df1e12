package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/config"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/database/dbtest"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/models"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/plans"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsInvalidSchedules(t *testing.T) {
	noop := func(context.Context) error { return nil }

	_, err := New(Job{Name: "broken", Spec: "every now and then", Run: noop})
	assert.Error(t, err)

	_, err = New(Job{Name: "a", Spec: "@hourly", Run: noop}, Job{Name: "a", Spec: "@daily", Run: noop})
	assert.Error(t, err)
}

func TestRunNow(t *testing.T) {
	calls := 0
	s, err := New(
		Job{Name: "count", Spec: "@hourly", Run: func(context.Context) error { calls++; return nil }},
		Job{Name: "fail", Spec: "@hourly", Run: func(context.Context) error { return errors.New("boom") }},
		Job{Name: "disabled", Spec: "", Run: func(context.Context) error { return nil }},
	)
	require.NoError(t, err)

	require.NoError(t, s.RunNow(context.Background(), "count"))
	assert.Equal(t, 1, calls)
	assert.EqualError(t, s.RunNow(context.Background(), "fail"), "boom")
	assert.Error(t, s.RunNow(context.Background(), "disabled"))

	s.Start()
	s.Stop()
}

func TestBillingJobs(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)

	ledger := services.NewLedgerService(db)
	lifecycle := services.NewLifecycleService(db, ledger, services.DefaultGracePeriod)
	events := services.NewEventStore(db)
	ingestor := services.NewWebhookIngestor("whsec_test", events, ledger, lifecycle, plans.NewRegistry())

	cfg := &config.Config{
		SweepSchedule:     "@hourly",
		ReconcileSchedule: "*/15 * * * *",
		LogRetentionDays:  30,
	}
	s, err := New(BillingJobs(cfg, db, lifecycle, services.NewReconciler(events, ingestor))...)
	require.NoError(t, err)

	expired := time.Now().UTC().Add(-time.Hour)
	org := models.Organization{
		Name:                  "Lapsed",
		Slug:                  "lapsed",
		AccountStatus:         models.AccountStatusTrial,
		TrialEndsAt:           &expired,
		CreditSpendingEnabled: true,
	}
	require.NoError(t, db.Create(&org).Error)

	old := models.SystemLog{Timestamp: time.Now().UTC().AddDate(0, 0, -31), Level: "ERROR", Message: "stale"}
	require.NoError(t, db.Create(&old).Error)

	for _, name := range []string{JobGraceSweep, JobTrialExpiry, JobReconcile, JobLogRetention} {
		require.NoError(t, s.RunNow(ctx, name), name)
	}

	var reloaded models.Organization
	require.NoError(t, db.First(&reloaded, "id = ?", org.ID).Error)
	assert.Equal(t, models.AccountStatusTrialExpired, reloaded.AccountStatus)
	assert.False(t, reloaded.CreditSpendingEnabled)

	var logs int64
	require.NoError(t, db.Model(&models.SystemLog{}).Count(&logs).Error)
	assert.Zero(t, logs)
}
