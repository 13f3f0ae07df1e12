package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/models"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/tenant"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GrantRequest struct {
	OrganizationID uuid.UUID
	Amount         int64
	Source         models.LedgerSource
	Description    string
	// IdempotencyKey makes the grant a no-op when an entry with the same key exists.
	IdempotencyKey string
	ExternalRef    string
	PaymentRef     string
}

type ConsumeRequest struct {
	OrganizationID uuid.UUID
	Amount         int64
	Source         models.LedgerSource
	FeatureType    string
	Description    string
}

// ProjectionCheck compares the derived balance with the synchronized counter.
type ProjectionCheck struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	LedgerSum      int64     `json:"ledger_sum"`
	Counter        int64     `json:"counter"`
	Consistent     bool      `json:"consistent"`
}

// LedgerService is the only writer of credit_ledger_entries and credit_balances.
// Every append moves the balance counter in the same transaction.
type LedgerService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{db: db, now: time.Now}
}

// Grant appends a positive entry. A repeated idempotency key returns the
// entry that already carries it.
func (s *LedgerService) Grant(ctx context.Context, req GrantRequest) (*models.CreditLedgerEntry, error) {
	var entry *models.CreditLedgerEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = s.grantTx(tx, req)
		return err
	})
	observeLedger(models.LedgerActionGrant, err)
	return entry, err
}

func (s *LedgerService) grantTx(tx *gorm.DB, req GrantRequest) (*models.CreditLedgerEntry, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.Source == "" {
		req.Source = models.LedgerSourceManual
	}

	entry := &models.CreditLedgerEntry{
		OrganizationID: req.OrganizationID,
		Amount:         req.Amount,
		Action:         models.LedgerActionGrant,
		Source:         req.Source,
		Description:    req.Description,
		IdempotencyKey: keyPtr(req.IdempotencyKey),
		ExternalRef:    req.ExternalRef,
		PaymentRef:     req.PaymentRef,
	}

	created, err := s.appendEntry(tx, entry)
	if err != nil {
		return nil, fmt.Errorf("grant credits: %w", err)
	}
	if created {
		return entry, nil
	}
	return existingForKey(tx, req.OrganizationID, req.IdempotencyKey)
}

// Consume appends a negative entry only if the balance covers it.
func (s *LedgerService) Consume(ctx context.Context, req ConsumeRequest) (*models.CreditLedgerEntry, error) {
	var entry *models.CreditLedgerEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = s.consumeTx(tx, req)
		return err
	})
	observeLedger(models.LedgerActionConsume, err)
	return entry, err
}

// consumeTx decrements the counter with a single conditional write. The row
// lock taken by that UPDATE serializes consumers of one tenant; other tenants
// hold different rows and never wait on it.
func (s *LedgerService) consumeTx(tx *gorm.DB, req ConsumeRequest) (*models.CreditLedgerEntry, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.Source == "" {
		req.Source = models.LedgerSourceFeature
	}

	result := tx.Model(&models.CreditBalance{}).
		Where("organization_id = ? AND balance >= ?", req.OrganizationID, req.Amount).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance - ?", req.Amount),
			"updated_at": s.now().UTC(),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("consume credits: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrInsufficientBalance
	}

	entry := &models.CreditLedgerEntry{
		OrganizationID: req.OrganizationID,
		Amount:         -req.Amount,
		Action:         models.LedgerActionConsume,
		Source:         req.Source,
		FeatureType:    req.FeatureType,
		Description:    req.Description,
	}
	if err := tx.Create(entry).Error; err != nil {
		return nil, fmt.Errorf("append consume entry: %w", err)
	}
	return entry, nil
}

// Refund compensates a prior grant after the payment behind it was refunded.
func (s *LedgerService) Refund(ctx context.Context, orgID, originalEntryID uuid.UUID) (*models.CreditLedgerEntry, error) {
	entry, err := s.compensate(ctx, orgID, originalEntryID, models.LedgerActionRefund, "Refund of payment")
	observeLedger(models.LedgerActionRefund, err)
	return entry, err
}

// Reverse compensates a prior grant whose payment was disputed.
func (s *LedgerService) Reverse(ctx context.Context, orgID, originalEntryID uuid.UUID, reason string) (*models.CreditLedgerEntry, error) {
	if reason == "" {
		reason = "Reversal of disputed payment"
	}
	entry, err := s.compensate(ctx, orgID, originalEntryID, models.LedgerActionReversal, reason)
	observeLedger(models.LedgerActionReversal, err)
	return entry, err
}

// compensate appends the negation of a grant. Refund and reversal share one
// key per original entry, so a grant is compensated at most once. The
// resulting balance may go below zero when the credits were already spent.
func (s *LedgerService) compensate(ctx context.Context, orgID, originalEntryID uuid.UUID, action models.LedgerAction, description string) (*models.CreditLedgerEntry, error) {
	var entry *models.CreditLedgerEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var original models.CreditLedgerEntry
		if err := tx.Scopes(tenant.ForOrganization(orgID)).
			First(&original, "id = ?", originalEntryID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrEntryNotFound
			}
			return err
		}
		if original.Action != models.LedgerActionGrant {
			return ErrNotCompensable
		}

		key := "compensate:" + original.ID.String()
		candidate := &models.CreditLedgerEntry{
			OrganizationID: orgID,
			Amount:         -original.Amount,
			Action:         action,
			Source:         original.Source,
			Description:    description,
			IdempotencyKey: &key,
			ExternalRef:    original.ExternalRef,
			PaymentRef:     original.PaymentRef,
		}
		created, err := s.appendEntry(tx, candidate)
		if err != nil {
			return err
		}
		if created {
			entry = candidate
			return nil
		}
		entry, err = existingForKey(tx, orgID, key)
		return err
	})
	return entry, err
}

// Balance is the sum of every entry for the organization.
func (s *LedgerService) Balance(ctx context.Context, orgID uuid.UUID) (int64, error) {
	return sumEntries(s.db.WithContext(ctx), orgID)
}

func (s *LedgerService) Entries(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]models.CreditLedgerEntry, int64, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.CreditLedgerEntry{}).
		Scopes(tenant.ForOrganization(orgID)).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []models.CreditLedgerEntry
	err := s.db.WithContext(ctx).
		Scopes(tenant.ForOrganization(orgID)).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	return entries, total, err
}

// FindByReference returns the earliest grant whose invoice/session or payment
// intent reference matches one of refs. A nil orgID searches every organization.
func (s *LedgerService) FindByReference(ctx context.Context, orgID uuid.UUID, refs ...string) (*models.CreditLedgerEntry, error) {
	nonEmpty := make([]string, 0, len(refs))
	for _, r := range refs {
		if r != "" {
			nonEmpty = append(nonEmpty, r)
		}
	}
	if len(nonEmpty) == 0 {
		return nil, ErrEntryNotFound
	}

	query := s.db.WithContext(ctx).
		Where("action = ?", models.LedgerActionGrant).
		Where("external_ref IN ? OR payment_ref IN ?", nonEmpty, nonEmpty)
	if orgID != uuid.Nil {
		query = query.Scopes(tenant.ForOrganization(orgID))
	}

	var entry models.CreditLedgerEntry
	err := query.Order("created_at ASC").First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return &entry, nil
}

func (s *LedgerService) VerifyProjection(ctx context.Context, orgID uuid.UUID) (*ProjectionCheck, error) {
	check := &ProjectionCheck{OrganizationID: orgID}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sum, err := sumEntries(tx, orgID)
		if err != nil {
			return err
		}
		var counter models.CreditBalance
		if err := tx.Where("organization_id = ?", orgID).Limit(1).Find(&counter).Error; err != nil {
			return err
		}
		check.LedgerSum = sum
		check.Counter = counter.Balance
		return nil
	})
	if err != nil {
		return nil, err
	}
	check.Consistent = check.LedgerSum == check.Counter
	return check, nil
}

// appendEntry inserts entry unless its idempotency key is taken, and moves the
// balance counter by the same amount in the caller's transaction.
func (s *LedgerService) appendEntry(tx *gorm.DB, entry *models.CreditLedgerEntry) (bool, error) {
	result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(entry)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	now := s.now().UTC()
	counter := models.CreditBalance{
		OrganizationID: entry.OrganizationID,
		Balance:        entry.Amount,
		UpdatedAt:      now,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "organization_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"balance":    gorm.Expr("credit_balances.balance + ?", entry.Amount),
			"updated_at": now,
		}),
	}).Create(&counter).Error
	if err != nil {
		return false, fmt.Errorf("update balance counter: %w", err)
	}
	return true, nil
}

func existingForKey(tx *gorm.DB, orgID uuid.UUID, key string) (*models.CreditLedgerEntry, error) {
	var existing models.CreditLedgerEntry
	if err := tx.Where("idempotency_key = ?", key).First(&existing).Error; err != nil {
		return nil, fmt.Errorf("load entry for idempotency key %q: %w", key, err)
	}
	if existing.OrganizationID != orgID {
		return nil, fmt.Errorf("idempotency key %q belongs to another organization", key)
	}
	return &existing, nil
}

func sumEntries(db *gorm.DB, orgID uuid.UUID) (int64, error) {
	var total int64
	err := db.Model(&models.CreditLedgerEntry{}).
		Scopes(tenant.ForOrganization(orgID)).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

func keyPtr(key string) *string {
	if key == "" {
		return nil
	}
	return &key
}

func observeLedger(action models.LedgerAction, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrInsufficientBalance):
		outcome = "insufficient_balance"
	case errors.Is(err, ErrInvalidAmount):
		outcome = "invalid"
	default:
		outcome = "error"
	}
	metrics.LedgerOperationsTotal.WithLabelValues(string(action), outcome).Inc()
}
