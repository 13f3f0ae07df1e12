package services

import (
	"context"
	"errors"
	"testing"

	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/database/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimIsFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore(dbtest.Open(t))
	store.now = fixedClock

	require.NoError(t, store.Claim(ctx, "evt_1", "invoice.paid", []byte(`{"id":"evt_1"}`)))
	assert.ErrorIs(t, store.Claim(ctx, "evt_1", "invoice.paid", []byte(`{"id":"evt_1"}`)), ErrDuplicateEvent)
	assert.Error(t, store.Claim(ctx, "", "invoice.paid", nil))

	record, err := store.Get(ctx, "evt_1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "invoice.paid", record.EventType)
	assert.True(t, record.ProcessedAt.Equal(fixedNow))

	missing, err := store.Get(ctx, "evt_missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFailureQueue(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore(dbtest.Open(t))

	require.NoError(t, store.RecordFailure(ctx, "evt_a", "charge.refunded", errors.New("no grant")))
	require.NoError(t, store.RecordFailure(ctx, "evt_b", "charge.refunded", errors.New("no grant")))

	pending, err := store.PendingFailures(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, store.RetryFailed(ctx, pending[0].ID, errors.New("still no grant")))
	require.NoError(t, store.ResolveFailure(ctx, pending[1].ID))

	pending, err = store.PendingFailures(ctx, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "exhausted and resolved failures are not pending")

	pending, err = store.PendingFailures(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "still no grant", pending[0].Error)
}
