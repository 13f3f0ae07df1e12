package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AccountStatus string

const (
	AccountStatusTrial        AccountStatus = "trial"
	AccountStatusActive       AccountStatus = "active"
	AccountStatusTrialExpired AccountStatus = "trial_expired"
	AccountStatusUnsubscribed AccountStatus = "unsubscribed"
	AccountStatusArchived     AccountStatus = "archived"
)

// Organization is the tenant. Rows are archived in place, never hard-deleted
// outside of provisioning compensation.
type Organization struct {
	ID                    uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	Name                  string        `gorm:"size:255;not null" json:"name"`
	Slug                  string        `gorm:"size:100;not null;uniqueIndex" json:"slug"`
	AccountStatus         AccountStatus `gorm:"size:20;not null;index" json:"account_status"`
	TrialEndsAt           *time.Time    `json:"trial_ends_at,omitempty"`
	GracePeriodEndsAt     *time.Time    `gorm:"index" json:"grace_period_ends_at,omitempty"`
	CreditSpendingEnabled bool          `gorm:"not null" json:"credit_spending_enabled"`
	ReadOnlyReason        *string       `gorm:"type:text" json:"read_only_reason,omitempty"`
	IsComped              bool          `gorm:"not null" json:"is_comped"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

func (o *Organization) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
