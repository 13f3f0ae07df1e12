package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BillingProfile mirrors the payment provider's view of a tenant. It is a
// current-state projection: one row per organization, overwritten by upserts.
type BillingProfile struct {
	ID                    uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID        uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex" json:"organization_id"`
	StripeCustomerID      string     `gorm:"size:255;index" json:"stripe_customer_id"`
	StripeSubscriptionID  string     `gorm:"size:255;index" json:"stripe_subscription_id"`
	SubscriptionStatus    string     `gorm:"size:50" json:"subscription_status"`
	SubscriptionPlan      string     `gorm:"size:100" json:"subscription_plan"`
	SubscriptionStartedAt *time.Time `json:"subscription_started_at,omitempty"`
	SubscriptionEndsAt    *time.Time `json:"subscription_ends_at,omitempty"`
	UnsubscribedAt        *time.Time `json:"unsubscribed_at,omitempty"`
	LastEventAt           time.Time  `gorm:"not null" json:"last_event_at"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

func (p *BillingProfile) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
