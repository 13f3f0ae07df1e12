package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ProcessedEvent is the dedup claim for a provider event. The unique primary
// key on EventID is the only lock taken against duplicate delivery.
type ProcessedEvent struct {
	EventID        string         `gorm:"size:255;primaryKey" json:"event_id"`
	EventType      string         `gorm:"size:100;not null;index" json:"event_type"`
	OrganizationID *uuid.UUID     `gorm:"type:uuid;index" json:"organization_id,omitempty"`
	Payload        datatypes.JSON `json:"-"`
	ProcessedAt    time.Time      `gorm:"not null;index" json:"processed_at"`
}

// EventFailure is a reconciliation work item for a claimed event whose
// dispatch did not complete.
type EventFailure struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	EventID    string     `gorm:"size:255;not null;index" json:"event_id"`
	EventType  string     `gorm:"size:100;not null" json:"event_type"`
	Error      string     `gorm:"type:text" json:"error"`
	Attempts   int        `gorm:"not null" json:"attempts"`
	ResolvedAt *time.Time `gorm:"index" json:"resolved_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (f *EventFailure) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}
