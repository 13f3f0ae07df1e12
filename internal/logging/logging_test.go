package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/database/dbtest"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingHandler struct{}

func (failingHandler) Enabled(context.Context, slog.Level) bool  { return true }
func (failingHandler) Handle(context.Context, slog.Record) error { return errors.New("sink down") }
func (h failingHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h failingHandler) WithGroup(string) slog.Handler           { return h }

func TestMultiHandlerContinuesPastFailingSink(t *testing.T) {
	var buf bytes.Buffer
	h := NewMultiHandler(failingHandler{}, slog.NewJSONHandler(&buf, nil))

	record := slog.NewRecord(time.Now(), slog.LevelError, "ledger drift", 0)
	err := h.Handle(context.Background(), record)

	assert.EqualError(t, err, "sink down")
	assert.Contains(t, buf.String(), "ledger drift")
}

func TestPGHandlerPromotesColumns(t *testing.T) {
	db := dbtest.Open(t)
	h := NewPGHandler(db)
	logger := slog.New(h)

	logger.Info("not persisted")
	logger.With("organization_id", "org-1").Error("dispatch failed",
		"event_id", "evt_1",
		"action", "webhook_dispatch",
		"error", "no grant",
		"attempts", 2,
	)
	h.Stop()

	var rows []models.SystemLog
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, "ERROR", row.Level)
	assert.Equal(t, "dispatch failed", row.Message)
	assert.Equal(t, "org-1", row.OrganizationID)
	assert.Equal(t, "evt_1", row.EventID)
	assert.Equal(t, "webhook_dispatch", row.Action)
	assert.Equal(t, "no grant", row.Error)
	assert.JSONEq(t, `{"attempts":2}`, string(row.Extra))
}

func TestPurgeExpired(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	now := time.Now().UTC()
	old := now.AddDate(0, 0, -45)

	require.NoError(t, db.Create(&[]models.SystemLog{
		{Timestamp: old, Level: "ERROR", Message: "old"},
		{Timestamp: now, Level: "ERROR", Message: "fresh"},
	}).Error)
	require.NoError(t, db.Create(&[]models.EventFailure{
		{EventID: "evt_resolved", EventType: "charge.refunded", Attempts: 1, ResolvedAt: &old},
		{EventID: "evt_open", EventType: "charge.refunded", Attempts: 9},
	}).Error)

	deleted, err := PurgeExpired(ctx, db, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	var logs []models.SystemLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, "fresh", logs[0].Message)

	var failures []models.EventFailure
	require.NoError(t, db.Find(&failures).Error)
	require.Len(t, failures, 1)
	assert.Equal(t, "evt_open", failures[0].EventID)

	deleted, err = PurgeExpired(ctx, db, 0)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}
