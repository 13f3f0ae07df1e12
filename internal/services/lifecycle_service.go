package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/models"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/tenant"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultGracePeriod is how long an unsubscribed account stays read-only before archival.
const DefaultGracePeriod = 30 * 24 * time.Hour

type LifecycleTrigger string

const (
	TriggerActivated           LifecycleTrigger = "activated"
	TriggerCanceled            LifecycleTrigger = "canceled"
	TriggerInvoicePaid         LifecycleTrigger = "invoice_paid"
	TriggerPaymentFailed       LifecycleTrigger = "payment_failed"
	TriggerChargeRefunded      LifecycleTrigger = "charge_refunded"
	TriggerDisputeCreated      LifecycleTrigger = "dispute_created"
	TriggerSubscriptionUpdated LifecycleTrigger = "subscription_updated"
	TriggerTrialExpired        LifecycleTrigger = "trial_expired"
	TriggerGraceExpired        LifecycleTrigger = "grace_expired"
)

// Transition is one request to move an organization through the state machine.
type Transition struct {
	OrganizationID uuid.UUID
	Trigger        LifecycleTrigger
	TriggeredBy    string
	EventID        string
	Reason         string
	Metadata       map[string]interface{}
	// Grant is appended only when the transition itself grants credits.
	Grant *GrantRequest
	// InitialInvoice marks the first invoice of a new subscription, whose
	// allotment was already granted on activation.
	InitialInvoice bool
	// OccurredAt is when the provider recorded the change. The grace period
	// runs from it; zero means now.
	OccurredAt time.Time
}

type TransitionResult struct {
	PreviousStatus models.AccountStatus
	NewStatus      models.AccountStatus
	// Skipped is set for comped organizations, which never enter the machine.
	Skipped bool
	Grant   *models.CreditLedgerEntry
}

func (r *TransitionResult) Changed() bool {
	return !r.Skipped && r.PreviousStatus != r.NewStatus
}

// ProfileUpdate is a provider-side snapshot of an organization's subscription.
type ProfileUpdate struct {
	OrganizationID        uuid.UUID
	StripeCustomerID      string
	StripeSubscriptionID  string
	SubscriptionStatus    string
	SubscriptionPlan      string
	SubscriptionStartedAt *time.Time
	SubscriptionEndsAt    *time.Time
	UnsubscribedAt        *time.Time
	EventAt               time.Time
}

type LifecycleService struct {
	db          *gorm.DB
	ledger      *LedgerService
	gracePeriod time.Duration
	now         func() time.Time
}

func NewLifecycleService(db *gorm.DB, ledger *LedgerService, gracePeriod time.Duration) *LifecycleService {
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}
	return &LifecycleService{db: db, ledger: ledger, gracePeriod: gracePeriod, now: time.Now}
}

// nextStatus is the transition table. Pairs without an entry keep the current
// status. The bool reports whether the transition carries a credit grant.
func nextStatus(current models.AccountStatus, trigger LifecycleTrigger, initialInvoice bool) (models.AccountStatus, bool) {
	switch current {
	case models.AccountStatusTrial:
		switch trigger {
		case TriggerActivated, TriggerInvoicePaid:
			return models.AccountStatusActive, true
		case TriggerTrialExpired:
			return models.AccountStatusTrialExpired, false
		}
	case models.AccountStatusTrialExpired, models.AccountStatusUnsubscribed:
		switch trigger {
		case TriggerActivated, TriggerInvoicePaid:
			return models.AccountStatusActive, true
		case TriggerGraceExpired:
			if current == models.AccountStatusUnsubscribed {
				return models.AccountStatusArchived, false
			}
		}
	case models.AccountStatusActive:
		switch trigger {
		case TriggerCanceled:
			return models.AccountStatusUnsubscribed, false
		case TriggerInvoicePaid:
			return models.AccountStatusActive, !initialInvoice
		}
	}
	return current, false
}

// Apply runs one transition under a row lock on the organization. The credit
// grant, the status write and the lifecycle log entry commit together, grant first.
func (s *LifecycleService) Apply(ctx context.Context, t Transition) (*TransitionResult, error) {
	if t.TriggeredBy == "" {
		t.TriggeredBy = models.TriggeredByWebhook
	}

	result := &TransitionResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var org models.Organization
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&org, "id = ?", t.OrganizationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrganizationNotFound
			}
			return err
		}

		result.PreviousStatus = org.AccountStatus
		result.NewStatus = org.AccountStatus
		if org.IsComped {
			result.Skipped = true
			return nil
		}

		next, grants := nextStatus(org.AccountStatus, t.Trigger, t.InitialInvoice)
		result.NewStatus = next

		if grants && t.Grant != nil && t.Grant.Amount > 0 {
			req := *t.Grant
			req.OrganizationID = org.ID
			entry, err := s.ledger.grantTx(tx, req)
			if err != nil {
				return err
			}
			result.Grant = entry
		}

		if next != org.AccountStatus {
			if err := tx.Model(&org).Updates(s.statusColumns(next, t.OccurredAt)).Error; err != nil {
				return fmt.Errorf("update account status: %w", err)
			}
		}

		return tx.Create(s.logEntry(t, result)).Error
	})
	if err != nil {
		return nil, err
	}

	if result.Skipped {
		slog.Info("lifecycle transition skipped for comped organization",
			"organization_id", t.OrganizationID, "trigger", t.Trigger, "event_id", t.EventID)
		return result, nil
	}

	metrics.LifecycleTransitionsTotal.WithLabelValues(string(result.PreviousStatus), string(result.NewStatus)).Inc()
	if result.Changed() {
		slog.Info("account status changed",
			"organization_id", t.OrganizationID,
			"from", result.PreviousStatus,
			"to", result.NewStatus,
			"trigger", t.Trigger,
			"event_id", t.EventID,
		)
	}
	return result, nil
}

func (s *LifecycleService) statusColumns(next models.AccountStatus, occurredAt time.Time) map[string]interface{} {
	at := s.now().UTC()
	if !occurredAt.IsZero() {
		at = occurredAt.UTC()
	}
	cols := map[string]interface{}{"account_status": next}

	switch next {
	case models.AccountStatusActive:
		cols["credit_spending_enabled"] = true
		cols["read_only_reason"] = nil
		cols["grace_period_ends_at"] = nil
	case models.AccountStatusUnsubscribed:
		graceEnds := at.Add(s.gracePeriod)
		cols["credit_spending_enabled"] = false
		cols["grace_period_ends_at"] = graceEnds
		cols["read_only_reason"] = fmt.Sprintf(
			"Subscription canceled. The account is read-only and will be archived on %s unless you resubscribe.",
			graceEnds.Format("2006-01-02"))
	case models.AccountStatusTrialExpired:
		cols["credit_spending_enabled"] = false
		cols["read_only_reason"] = "Trial ended. Subscribe to a plan to keep using credits."
	case models.AccountStatusArchived:
		cols["credit_spending_enabled"] = false
		cols["read_only_reason"] = "Grace period ended and the account was archived."
	}
	return cols
}

func (s *LifecycleService) logEntry(t Transition, result *TransitionResult) *models.AccountLifecycleLog {
	reason := t.Reason
	if reason == "" {
		reason = fmt.Sprintf("%s: %s -> %s", t.Trigger, result.PreviousStatus, result.NewStatus)
	}

	meta := map[string]interface{}{"trigger": string(t.Trigger)}
	for k, v := range t.Metadata {
		meta[k] = v
	}
	if result.Grant != nil {
		meta["grant_entry_id"] = result.Grant.ID.String()
		meta["grant_amount"] = result.Grant.Amount
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		raw = []byte(`{}`)
	}

	return &models.AccountLifecycleLog{
		OrganizationID: t.OrganizationID,
		PreviousStatus: result.PreviousStatus,
		NewStatus:      result.NewStatus,
		Reason:         reason,
		TriggeredBy:    t.TriggeredBy,
		EventID:        t.EventID,
		Metadata:       datatypes.JSON(raw),
	}
}

// SweepExpiredGracePeriods archives every unsubscribed organization whose grace
// period has ended. Each organization is transitioned in its own transaction.
func (s *LifecycleService) SweepExpiredGracePeriods(ctx context.Context) (int, error) {
	return s.sweep(ctx, "grace_period", models.AccountStatusUnsubscribed, "grace_period_ends_at", TriggerGraceExpired)
}

// ExpireTrials moves trials past trial_ends_at to trial_expired.
func (s *LifecycleService) ExpireTrials(ctx context.Context) (int, error) {
	return s.sweep(ctx, "trial", models.AccountStatusTrial, "trial_ends_at", TriggerTrialExpired)
}

func (s *LifecycleService) sweep(ctx context.Context, name string, status models.AccountStatus, deadline string, trigger LifecycleTrigger) (int, error) {
	now := s.now().UTC()

	var ids []uuid.UUID
	if err := s.db.WithContext(ctx).Model(&models.Organization{}).
		Where("account_status = ? AND is_comped = ?", status, false).
		Where(deadline+" IS NOT NULL AND "+deadline+" <= ?", now).
		Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("%s sweep: %w", name, err)
	}

	transitioned := 0
	var errs []error
	for _, id := range ids {
		result, err := s.Apply(ctx, Transition{
			OrganizationID: id,
			Trigger:        trigger,
			TriggeredBy:    models.TriggeredBySweep,
		})
		if err != nil {
			slog.Error("sweep transition failed", "sweep", name, "organization_id", id, "error", err)
			errs = append(errs, fmt.Errorf("organization %s: %w", id, err))
			continue
		}
		if result.Changed() {
			transitioned++
			metrics.SweepTransitionsTotal.WithLabelValues(name).Inc()
		}
	}

	slog.Info("sweep completed", "sweep", name, "candidates", len(ids), "transitioned", transitioned)
	return transitioned, errors.Join(errs...)
}

// History lists lifecycle log entries newest first.
func (s *LifecycleService) History(ctx context.Context, orgID uuid.UUID, limit int) ([]models.AccountLifecycleLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var logs []models.AccountLifecycleLog
	err := s.db.WithContext(ctx).
		Scopes(tenant.ForOrganization(orgID)).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// UpsertBillingProfile writes the provider snapshot unless a newer event has
// already been applied. It reports whether the row was written.
func (s *LifecycleService) UpsertBillingProfile(ctx context.Context, u ProfileUpdate) (bool, error) {
	if u.EventAt.IsZero() {
		u.EventAt = s.now()
	}
	u.EventAt = u.EventAt.UTC()

	profile := models.BillingProfile{
		OrganizationID:        u.OrganizationID,
		StripeCustomerID:      u.StripeCustomerID,
		StripeSubscriptionID:  u.StripeSubscriptionID,
		SubscriptionStatus:    u.SubscriptionStatus,
		SubscriptionPlan:      u.SubscriptionPlan,
		SubscriptionStartedAt: u.SubscriptionStartedAt,
		SubscriptionEndsAt:    u.SubscriptionEndsAt,
		UnsubscribedAt:        u.UnsubscribedAt,
		LastEventAt:           u.EventAt,
	}

	columns := []string{"last_event_at", "updated_at"}
	optional := []struct {
		name string
		set  bool
	}{
		{"stripe_customer_id", u.StripeCustomerID != ""},
		{"stripe_subscription_id", u.StripeSubscriptionID != ""},
		{"subscription_status", u.SubscriptionStatus != ""},
		{"subscription_plan", u.SubscriptionPlan != ""},
		{"subscription_started_at", u.SubscriptionStartedAt != nil},
		{"subscription_ends_at", u.SubscriptionEndsAt != nil},
		{"unsubscribed_at", u.UnsubscribedAt != nil},
	}
	for _, col := range optional {
		if col.set {
			columns = append(columns, col.name)
		}
	}

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "organization_id"}},
		DoUpdates: clause.AssignmentColumns(columns),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "billing_profiles.last_event_at <= ?", Vars: []interface{}{u.EventAt}},
		}},
	}).Create(&profile)
	if result.Error != nil {
		return false, fmt.Errorf("upsert billing profile: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		slog.Info("stale billing profile update ignored",
			"organization_id", u.OrganizationID, "event_at", u.EventAt)
		return false, nil
	}
	return true, nil
}

func (s *LifecycleService) Profile(ctx context.Context, orgID uuid.UUID) (*models.BillingProfile, error) {
	var profile models.BillingProfile
	if err := s.db.WithContext(ctx).First(&profile, "organization_id = ?", orgID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

// ProfileByCustomer resolves an organization from the provider customer id.
func (s *LifecycleService) ProfileByCustomer(ctx context.Context, customerID string) (*models.BillingProfile, error) {
	if customerID == "" {
		return nil, nil
	}
	var profile models.BillingProfile
	if err := s.db.WithContext(ctx).First(&profile, "stripe_customer_id = ?", customerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

func (s *LifecycleService) Organization(ctx context.Context, orgID uuid.UUID) (*models.Organization, error) {
	var org models.Organization
	if err := s.db.WithContext(ctx).First(&org, "id = ?", orgID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrganizationNotFound
		}
		return nil, err
	}
	return &org, nil
}
