package services

import (
	"context"
	"errors"
	"time"

	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountStatusView is what UI banners and feature gates read.
type AccountStatusView struct {
	Status            models.AccountStatus `json:"status"`
	TrialEndsAt       *time.Time           `json:"trial_ends_at,omitempty"`
	GracePeriodEndsAt *time.Time           `json:"grace_period_ends_at,omitempty"`
	SpendingEnabled   bool                 `json:"spending_enabled"`
	ReadOnlyReason    *string              `json:"read_only_reason,omitempty"`
	IsComped          bool                 `json:"is_comped"`
}

// BillingService is the read/write surface for the rest of the product.
type BillingService struct {
	db     *gorm.DB
	ledger *LedgerService
}

func NewBillingService(db *gorm.DB, ledger *LedgerService) *BillingService {
	return &BillingService{db: db, ledger: ledger}
}

func (s *BillingService) GetBalance(ctx context.Context, orgID uuid.UUID) (int64, error) {
	return s.ledger.Balance(ctx, orgID)
}

func (s *BillingService) GetAccountStatus(ctx context.Context, orgID uuid.UUID) (*AccountStatusView, error) {
	var org models.Organization
	if err := s.db.WithContext(ctx).First(&org, "id = ?", orgID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrganizationNotFound
		}
		return nil, err
	}
	return &AccountStatusView{
		Status:            org.AccountStatus,
		TrialEndsAt:       org.TrialEndsAt,
		GracePeriodEndsAt: org.GracePeriodEndsAt,
		SpendingEnabled:   org.CreditSpendingEnabled,
		ReadOnlyReason:    org.ReadOnlyReason,
		IsComped:          org.IsComped,
	}, nil
}

// RequestConsumption must be called before the metered action runs. The
// spending gate and the conditional debit share one transaction; the shared
// lock on the organization row orders it against status transitions.
func (s *BillingService) RequestConsumption(ctx context.Context, orgID uuid.UUID, featureType string, cost int64) (*models.CreditLedgerEntry, error) {
	var entry *models.CreditLedgerEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var org models.Organization
		if err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
			Select("id", "credit_spending_enabled").
			First(&org, "id = ?", orgID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrganizationNotFound
			}
			return err
		}
		if !org.CreditSpendingEnabled {
			return ErrSpendingDisabled
		}

		var err error
		entry, err = s.ledger.consumeTx(tx, ConsumeRequest{
			OrganizationID: orgID,
			Amount:         cost,
			Source:         models.LedgerSourceFeature,
			FeatureType:    featureType,
			Description:    "Consumed by " + featureType,
		})
		return err
	})

	switch {
	case errors.Is(err, ErrSpendingDisabled):
		metrics.ConsumptionRejectedTotal.WithLabelValues("spending_disabled").Inc()
	case errors.Is(err, ErrInsufficientBalance):
		metrics.ConsumptionRejectedTotal.WithLabelValues("insufficient_balance").Inc()
	}
	observeLedger(models.LedgerActionConsume, err)
	return entry, err
}

// GrantManual credits an organization on an operator's behalf.
func (s *BillingService) GrantManual(ctx context.Context, orgID uuid.UUID, amount int64, description, idempotencyKey string) (*models.CreditLedgerEntry, error) {
	if err := s.db.WithContext(ctx).Select("id").First(&models.Organization{}, "id = ?", orgID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrganizationNotFound
		}
		return nil, err
	}
	if description == "" {
		description = "Manual grant"
	}
	return s.ledger.Grant(ctx, GrantRequest{
		OrganizationID: orgID,
		Amount:         amount,
		Source:         models.LedgerSourceManual,
		Description:    description,
		IdempotencyKey: idempotencyKey,
	})
}

// LedgerHistory pages through an organization's entries, newest first.
func (s *BillingService) LedgerHistory(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]models.CreditLedgerEntry, int64, error) {
	return s.ledger.Entries(ctx, orgID, limit, offset)
}
