package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	TriggeredByWebhook = "webhook"
	TriggeredBySignup  = "signup"
	TriggeredByManual  = "manual"
	TriggeredBySweep   = "sweep"
)

// AccountLifecycleLog is the append-only audit trail of account status
// changes. No-op transitions are recorded with PreviousStatus == NewStatus.
type AccountLifecycleLog struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID uuid.UUID      `gorm:"type:uuid;not null;index" json:"organization_id"`
	PreviousStatus AccountStatus  `gorm:"size:20" json:"previous_status"`
	NewStatus      AccountStatus  `gorm:"size:20;not null" json:"new_status"`
	Reason         string         `gorm:"type:text" json:"reason"`
	TriggeredBy    string         `gorm:"size:20;not null" json:"triggered_by"`
	EventID        string         `gorm:"size:255;index" json:"event_id,omitempty"`
	Metadata       datatypes.JSON `json:"metadata"`
	CreatedAt      time.Time      `gorm:"index" json:"created_at"`
}

func (AccountLifecycleLog) TableName() string {
	return "account_lifecycle_logs"
}

func (l *AccountLifecycleLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
