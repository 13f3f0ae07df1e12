package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/metrics"
	"github.com/stripe/stripe-go/v82"
)

const (
	defaultReconcileBatch       = 100
	defaultReconcileMaxAttempts = 10
)

type ReconcileReport struct {
	Resolved int `json:"resolved"`
	Failed   int `json:"failed"`
}

// Reconciler replays claimed events whose dispatch failed. Replays reuse the
// stored payload, so every credit effect keeps its original idempotency key.
type Reconciler struct {
	events      *EventStore
	ingestor    *WebhookIngestor
	batchSize   int
	maxAttempts int
}

func NewReconciler(events *EventStore, ingestor *WebhookIngestor) *Reconciler {
	return &Reconciler{
		events:      events,
		ingestor:    ingestor,
		batchSize:   defaultReconcileBatch,
		maxAttempts: defaultReconcileMaxAttempts,
	}
}

func (r *Reconciler) Run(ctx context.Context) (*ReconcileReport, error) {
	failures, err := r.events.PendingFailures(ctx, r.maxAttempts, r.batchSize)
	if err != nil {
		return nil, fmt.Errorf("list event failures: %w", err)
	}

	report := &ReconcileReport{}
	var errs []error
	for _, failure := range failures {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		replayErr := r.replay(ctx, failure.EventID)
		if replayErr != nil {
			report.Failed++
			metrics.ReconcileTotal.WithLabelValues("failed").Inc()
			slog.Warn("event replay failed",
				"event_id", failure.EventID, "attempts", failure.Attempts+1, "error", replayErr)
			if err := r.events.RetryFailed(ctx, failure.ID, replayErr); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		if err := r.events.ResolveFailure(ctx, failure.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		report.Resolved++
		metrics.ReconcileTotal.WithLabelValues("resolved").Inc()
		slog.Info("event reconciled", "event_id", failure.EventID)
	}

	return report, errors.Join(errs...)
}

func (r *Reconciler) replay(ctx context.Context, eventID string) error {
	record, err := r.events.Get(ctx, eventID)
	if err != nil {
		return err
	}
	if record == nil || len(record.Payload) == 0 {
		return fmt.Errorf("no stored payload for event %s", eventID)
	}

	var event stripe.Event
	if err := json.Unmarshal(record.Payload, &event); err != nil {
		return fmt.Errorf("decode stored event %s: %w", eventID, err)
	}
	return r.ingestor.Dispatch(ctx, &event)
}
