package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/models"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/plans"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/saga"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	DefaultTrialPeriod = 14 * 24 * time.Hour
	maxSlugLength      = 60
	slugAttempts       = 5
)

type ProvisionRequest struct {
	BusinessName  string
	OwnerEmail    string
	OwnerPassword string
	OwnerName     string
	Comped        bool
}

type ProvisionResult struct {
	Organization *models.Organization
	Owner        *models.User
	// Warnings lists optional steps that failed without failing the signup.
	Warnings []string
}

type ProvisioningPolicy struct {
	TrialPeriod  time.Duration
	TrialCredits int64
}

// ProvisioningService creates tenants. The organization, owner, role and
// membership are mandatory and compensated as a unit; features, the welcome
// grant and the first lifecycle entry are best effort.
type ProvisioningService struct {
	db       *gorm.DB
	identity IdentityProvider
	ledger   *LedgerService
	features *FeatureService
	plans    *plans.Registry
	policy   ProvisioningPolicy
	now      func() time.Time
}

func NewProvisioningService(db *gorm.DB, identity IdentityProvider, ledger *LedgerService, features *FeatureService, registry *plans.Registry, policy ProvisioningPolicy) *ProvisioningService {
	if policy.TrialPeriod <= 0 {
		policy.TrialPeriod = DefaultTrialPeriod
	}
	return &ProvisioningService{
		db:       db,
		identity: identity,
		ledger:   ledger,
		features: features,
		plans:    registry,
		policy:   policy,
		now:      time.Now,
	}
}

func (s *ProvisioningService) ProvisionTenant(ctx context.Context, req ProvisionRequest) (*ProvisionResult, error) {
	req.BusinessName = strings.TrimSpace(req.BusinessName)
	if req.BusinessName == "" {
		return nil, &ProvisioningStepError{Step: "validate", Err: errors.New("business name is required")}
	}

	result := &ProvisionResult{}
	var org *models.Organization
	var owner *models.User

	run := saga.New("provision_tenant", slog.Default()).
		Add(saga.Step{
			Name: "create_organization",
			Action: func(ctx context.Context) error {
				created, err := s.createOrganization(ctx, req)
				org = created
				return err
			},
			Compensate: func(ctx context.Context) error {
				return s.db.WithContext(ctx).Where("id = ?", org.ID).Delete(&models.Organization{}).Error
			},
		}).
		Add(saga.Step{
			Name: "create_user",
			Action: func(ctx context.Context) error {
				user, err := s.identity.CreateUser(ctx, req.OwnerEmail, req.OwnerPassword, req.OwnerName)
				owner = user
				return err
			},
			Compensate: func(ctx context.Context) error {
				return s.identity.DeleteUser(ctx, owner.ID)
			},
		}).
		Add(saga.Step{
			Name: "assign_role",
			Action: func(ctx context.Context) error {
				return s.identity.AssignRole(ctx, owner.ID, org.ID, models.RoleAdmin)
			},
			Compensate: func(ctx context.Context) error {
				return s.identity.RevokeRole(ctx, owner.ID, org.ID, models.RoleAdmin)
			},
		}).
		Add(saga.Step{
			Name: "link_organization",
			Action: func(ctx context.Context) error {
				return s.identity.LinkOrganization(ctx, owner.ID, org.ID)
			},
			Compensate: func(ctx context.Context) error {
				return s.identity.UnlinkOrganization(ctx, owner.ID, org.ID)
			},
		})

	if err := run.Run(ctx); err != nil {
		metrics.ProvisioningTotal.WithLabelValues("failed").Inc()
		var stepErr *saga.StepError
		if errors.As(err, &stepErr) {
			return nil, &ProvisioningStepError{
				Step:             stepErr.Step,
				Err:              stepErr.Err,
				CompensationErrs: stepErr.CompensationErrs,
			}
		}
		return nil, &ProvisioningStepError{Step: "unknown", Err: err}
	}

	result.Organization = org
	result.Owner = owner
	result.Warnings = s.runOptionalSteps(ctx, org, req.Comped)

	metrics.ProvisioningTotal.WithLabelValues("succeeded").Inc()
	slog.Info("tenant provisioned",
		"organization_id", org.ID,
		"slug", org.Slug,
		"user_id", owner.ID,
		"comped", req.Comped,
		"warnings", len(result.Warnings),
	)
	return result, nil
}

func (s *ProvisioningService) createOrganization(ctx context.Context, req ProvisionRequest) (*models.Organization, error) {
	now := s.now().UTC()
	var lastErr error
	for attempt := 0; attempt < slugAttempts; attempt++ {
		slug, err := s.uniqueSlug(ctx, req.BusinessName)
		if err != nil {
			return nil, err
		}

		org := &models.Organization{
			Name:                  req.BusinessName,
			Slug:                  slug,
			AccountStatus:         models.AccountStatusTrial,
			CreditSpendingEnabled: true,
			IsComped:              req.Comped,
		}
		if req.Comped {
			org.AccountStatus = models.AccountStatusActive
		} else {
			trialEnds := now.Add(s.policy.TrialPeriod)
			org.TrialEndsAt = &trialEnds
		}

		err = s.db.WithContext(ctx).Create(org).Error
		if err == nil {
			return org, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("failed to create organization: %w", err)
		}
		// Another signup took the slug between the lookup and the insert.
		lastErr = err
	}
	return nil, fmt.Errorf("failed to allocate slug: %w", lastErr)
}

// uniqueSlug suffixes the folded name with -1, -2, ... until it is free.
func (s *ProvisioningService) uniqueSlug(ctx context.Context, name string) (string, error) {
	base := Slugify(name)

	var taken []string
	if err := s.db.WithContext(ctx).Model(&models.Organization{}).
		Where("slug = ? OR slug LIKE ?", base, base+"-%").
		Pluck("slug", &taken).Error; err != nil {
		return "", fmt.Errorf("failed to check slug: %w", err)
	}

	used := make(map[string]struct{}, len(taken))
	for _, t := range taken {
		used[t] = struct{}{}
	}
	if _, ok := used[base]; !ok {
		return base, nil
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if _, ok := used[candidate]; !ok {
			return candidate, nil
		}
	}
}

// Slugify lowercases and ASCII-folds name into a URL-safe slug.
func Slugify(name string) string {
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(folded) {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			pendingDash = true
			continue
		}
		// Letters with no ASCII decomposition are dropped.
		if r >= unicode.MaxASCII {
			continue
		}
		if pendingDash && b.Len() > 0 {
			b.WriteByte('-')
		}
		b.WriteRune(r)
		pendingDash = false
	}

	slug := b.String()
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	if slug == "" {
		slug = "org"
	}
	return slug
}

func (s *ProvisioningService) runOptionalSteps(ctx context.Context, org *models.Organization, comped bool) []string {
	var warnings []string
	warn := func(step string, err error) {
		slog.Warn("optional provisioning step failed",
			"action", step, "organization_id", org.ID, "error", err)
		warnings = append(warnings, step)
	}

	planID := plans.PlanTrial
	if comped {
		planID = plans.PlanComped
	}
	if s.features != nil && s.plans != nil {
		if err := s.features.SeedDefaults(ctx, org.ID, s.plans.DefaultFeatures(planID)); err != nil {
			warn("default_features", err)
		}
	}

	if !comped && s.policy.TrialCredits > 0 {
		_, err := s.ledger.Grant(ctx, GrantRequest{
			OrganizationID: org.ID,
			Amount:         s.policy.TrialCredits,
			Source:         models.LedgerSourceTrial,
			Description:    "Welcome credits",
			IdempotencyKey: "signup:" + org.ID.String(),
		})
		if err != nil {
			warn("welcome_grant", err)
		}
	}

	if err := s.recordSignup(ctx, org); err != nil {
		warn("lifecycle_log", err)
	}
	return warnings
}

func (s *ProvisioningService) recordSignup(ctx context.Context, org *models.Organization) error {
	reason := "Trial started"
	meta := map[string]interface{}{"slug": org.Slug}
	if org.IsComped {
		reason = "Complimentary account created"
	} else if org.TrialEndsAt != nil {
		meta["trial_ends_at"] = org.TrialEndsAt.Format(time.RFC3339)
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	entry := models.AccountLifecycleLog{
		OrganizationID: org.ID,
		NewStatus:      org.AccountStatus,
		Reason:         reason,
		TriggeredBy:    models.TriggeredBySignup,
		Metadata:       datatypes.JSON(raw),
	}
	return s.db.WithContext(ctx).Create(&entry).Error
}
