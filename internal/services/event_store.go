package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventStore records every accepted provider event id. Claim is the dedup
// primitive: the first insert wins, every later insert of the same id is a
// no-op reported as ErrDuplicateEvent.
type EventStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewEventStore(db *gorm.DB) *EventStore {
	return &EventStore{db: db, now: time.Now}
}

// Claim inserts the processed-event record before any side effect runs.
func (s *EventStore) Claim(ctx context.Context, eventID, eventType string, payload []byte) error {
	if eventID == "" {
		return fmt.Errorf("claim event: empty event id")
	}

	record := models.ProcessedEvent{
		EventID:     eventID,
		EventType:   eventType,
		Payload:     datatypes.JSON(payload),
		ProcessedAt: s.now().UTC(),
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&record)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("claim event %s: %w", eventID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrDuplicateEvent
	}
	return nil
}

// AttachOrganization records which tenant a claimed event resolved to.
func (s *EventStore) AttachOrganization(ctx context.Context, eventID string, orgID uuid.UUID) error {
	return s.db.WithContext(ctx).
		Model(&models.ProcessedEvent{}).
		Where("event_id = ? AND organization_id IS NULL", eventID).
		Update("organization_id", orgID).Error
}

func (s *EventStore) Get(ctx context.Context, eventID string) (*models.ProcessedEvent, error) {
	var record models.ProcessedEvent
	if err := s.db.WithContext(ctx).First(&record, "event_id = ?", eventID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// RecordFailure queues a claimed event for reconciliation.
func (s *EventStore) RecordFailure(ctx context.Context, eventID, eventType string, cause error) error {
	failure := models.EventFailure{
		EventID:   eventID,
		EventType: eventType,
		Error:     cause.Error(),
		Attempts:  1,
	}
	return s.db.WithContext(ctx).Create(&failure).Error
}

// PendingFailures lists unresolved failures, oldest first. Failures that have
// used up maxAttempts are left for manual review.
func (s *EventStore) PendingFailures(ctx context.Context, maxAttempts, limit int) ([]models.EventFailure, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := s.db.WithContext(ctx).Where("resolved_at IS NULL")
	if maxAttempts > 0 {
		query = query.Where("attempts < ?", maxAttempts)
	}
	var failures []models.EventFailure
	err := query.
		Order("created_at ASC").
		Limit(limit).
		Find(&failures).Error
	return failures, err
}

func (s *EventStore) ResolveFailure(ctx context.Context, failureID uuid.UUID) error {
	now := s.now().UTC()
	return s.db.WithContext(ctx).
		Model(&models.EventFailure{}).
		Where("id = ? AND resolved_at IS NULL", failureID).
		Update("resolved_at", now).Error
}

func (s *EventStore) RetryFailed(ctx context.Context, failureID uuid.UUID, cause error) error {
	return s.db.WithContext(ctx).
		Model(&models.EventFailure{}).
		Where("id = ?", failureID).
		Updates(map[string]interface{}{
			"attempts": gorm.Expr("attempts + 1"),
			"error":    cause.Error(),
		}).Error
}
