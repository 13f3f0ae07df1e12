package services

import (
	"context"
	"testing"

	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/database/dbtest"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestConsumption(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	ledger := NewLedgerService(db)
	billing := NewBillingService(db, ledger)
	org := createOrg(t, db, models.AccountStatusActive, false)

	_, err := billing.GrantManual(ctx, org.ID, 10, "", "")
	require.NoError(t, err)

	entry, err := billing.RequestConsumption(ctx, org.ID, "ai_query", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(-4), entry.Amount)
	assert.Equal(t, "ai_query", entry.FeatureType)

	_, err = billing.RequestConsumption(ctx, org.ID, "media_generation", 7)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	balance, err := billing.GetBalance(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), balance)
}

func TestRequestConsumptionRespectsSpendingGate(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	ledger := NewLedgerService(db)
	billing := NewBillingService(db, ledger)
	org := createOrg(t, db, models.AccountStatusUnsubscribed, false)

	_, err := billing.GrantManual(ctx, org.ID, 100, "goodwill", "")
	require.NoError(t, err)

	_, err = billing.RequestConsumption(ctx, org.ID, "ai_query", 1)
	assert.ErrorIs(t, err, ErrSpendingDisabled)

	balance, err := billing.GetBalance(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestGetAccountStatus(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	billing := NewBillingService(db, NewLedgerService(db))
	org := createOrg(t, db, models.AccountStatusTrial, false)

	view, err := billing.GetAccountStatus(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AccountStatusTrial, view.Status)
	assert.True(t, view.SpendingEnabled)
	assert.Nil(t, view.ReadOnlyReason)

	_, err = billing.GetAccountStatus(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrOrganizationNotFound)

	_, err = billing.GrantManual(ctx, uuid.New(), 5, "", "")
	assert.ErrorIs(t, err, ErrOrganizationNotFound)
}

func TestFeatureService(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	features := NewFeatureService(db)
	orgID := uuid.New()

	require.NoError(t, features.SeedDefaults(ctx, orgID, map[string]string{
		"ai_chat":      "true",
		"max_listings": "10",
		"theme":        "coastal",
	}))

	_, err := features.Set(ctx, orgID, "max_listings", "25", FeatureTypeInt)
	require.NoError(t, err)
	require.NoError(t, features.SeedDefaults(ctx, orgID, map[string]string{"max_listings": "10"}))

	_, err = features.Set(ctx, orgID, "ai_chat", "maybe", FeatureTypeBool)
	assert.Error(t, err)

	values, err := features.Values(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, true, values["ai_chat"])
	assert.Equal(t, 25, values["max_listings"])
	assert.Equal(t, "coastal", values["theme"])

	require.NoError(t, features.Delete(ctx, orgID, "theme"))
	assert.ErrorIs(t, features.Delete(ctx, orgID, "theme"), ErrFeatureNotFound)
}
