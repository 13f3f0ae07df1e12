package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SystemLog stores structured ERROR+ log records.
type SystemLog struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Timestamp      time.Time      `gorm:"not null;index" json:"timestamp"`
	Level          string         `gorm:"size:10;not null;index" json:"level"`
	Message        string         `gorm:"type:text" json:"message"`
	OrganizationID string         `gorm:"size:36;index" json:"organization_id"`
	EventID        string         `gorm:"size:255;index" json:"event_id"`
	TraceID        string         `gorm:"size:36;index" json:"trace_id"`
	UserID         *string        `gorm:"size:36" json:"user_id"`
	Action         string         `gorm:"size:100" json:"action"`
	Error          string         `gorm:"type:text" json:"error"`
	LatencyMs      int            `json:"latency_ms"`
	Extra          datatypes.JSON `json:"extra"`
	CreatedAt      time.Time      `json:"created_at"`
}

func (l *SystemLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
