package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type LedgerAction string

const (
	LedgerActionGrant    LedgerAction = "grant"
	LedgerActionConsume  LedgerAction = "consume"
	LedgerActionRefund   LedgerAction = "refund"
	LedgerActionReversal LedgerAction = "reversal"
)

type LedgerSource string

const (
	LedgerSourceSubscription LedgerSource = "subscription"
	LedgerSourcePurchase     LedgerSource = "purchase"
	LedgerSourceTrial        LedgerSource = "trial"
	LedgerSourceManual       LedgerSource = "manual"
	LedgerSourceFeature      LedgerSource = "feature"
	LedgerSourceProvider     LedgerSource = "provider"
)

// CreditLedgerEntry is an append-only credit movement. Rows are never updated
// or deleted; corrections are new entries with the opposite sign.
type CreditLedgerEntry struct {
	ID             uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID uuid.UUID    `gorm:"type:uuid;not null;index:idx_ledger_org_created,priority:1" json:"organization_id"`
	Amount         int64        `gorm:"not null" json:"amount"`
	Action         LedgerAction `gorm:"size:20;not null" json:"action"`
	Source         LedgerSource `gorm:"size:30;not null" json:"source"`
	Description    string       `gorm:"type:text" json:"description"`
	FeatureType    string       `gorm:"size:100" json:"feature_type,omitempty"`
	IdempotencyKey *string      `gorm:"size:255;uniqueIndex" json:"idempotency_key,omitempty"`
	ExternalRef    string       `gorm:"size:255;index" json:"external_ref,omitempty"`
	PaymentRef     string       `gorm:"size:255;index" json:"payment_ref,omitempty"`
	CreatedAt      time.Time    `gorm:"index:idx_ledger_org_created,priority:2" json:"created_at"`
}

func (CreditLedgerEntry) TableName() string {
	return "credit_ledger_entries"
}

func (e *CreditLedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// CreditBalance is the synchronized counter over credit_ledger_entries. It is
// only written in the same transaction as an entry append.
type CreditBalance struct {
	OrganizationID uuid.UUID `gorm:"type:uuid;primaryKey" json:"organization_id"`
	Balance        int64     `gorm:"not null" json:"balance"`
	UpdatedAt      time.Time `json:"updated_at"`
}
