package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/database/dbtest"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// failingIdentity wraps the real provider and fails one step on demand.
type failingIdentity struct {
	*IdentityService
	failAssign bool
	failLink   bool
}

func (f *failingIdentity) AssignRole(ctx context.Context, userID, orgID uuid.UUID, role string) error {
	if f.failAssign {
		return errors.New("identity provider unavailable")
	}
	return f.IdentityService.AssignRole(ctx, userID, orgID, role)
}

func (f *failingIdentity) LinkOrganization(ctx context.Context, userID, orgID uuid.UUID) error {
	if f.failLink {
		return errors.New("identity provider unavailable")
	}
	return f.IdentityService.LinkOrganization(ctx, userID, orgID)
}

func newTestProvisioning(t *testing.T, identity IdentityProvider, db *gorm.DB) *ProvisioningService {
	t.Helper()
	ledger := NewLedgerService(db)
	svc := NewProvisioningService(db, identity, ledger, NewFeatureService(db), testPlans(t), ProvisioningPolicy{
		TrialPeriod:  DefaultTrialPeriod,
		TrialCredits: 50,
	})
	svc.now = fixedClock
	return svc
}

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func TestProvisionTenant(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	identity := NewIdentityService(db, "test-secret", time.Minute)
	svc := newTestProvisioning(t, identity, db)

	result, err := svc.ProvisionTenant(ctx, ProvisionRequest{
		BusinessName:  "Sunset Realty",
		OwnerEmail:    "Owner@Sunset.example",
		OwnerPassword: "correct-horse",
	})
	require.NoError(t, err)
	assert.Empty(t, result.Warnings)

	org := result.Organization
	assert.Equal(t, "sunset-realty", org.Slug)
	assert.Equal(t, models.AccountStatusTrial, org.AccountStatus)
	assert.True(t, org.CreditSpendingEnabled)
	require.NotNil(t, org.TrialEndsAt)
	assert.True(t, org.TrialEndsAt.Equal(fixedNow.Add(14*24*time.Hour)))
	assert.Equal(t, "owner@sunset.example", result.Owner.Email)

	balance, err := svc.ledger.Balance(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)

	assert.Equal(t, int64(1), countRows(t, db, &models.UserRole{}))
	assert.Equal(t, int64(1), countRows(t, db, &models.OrganizationMember{}))
	assert.Equal(t, int64(2), countRows(t, db, &models.OrganizationFeature{}))

	var logEntry models.AccountLifecycleLog
	require.NoError(t, db.First(&logEntry, "organization_id = ?", org.ID).Error)
	assert.Equal(t, models.TriggeredBySignup, logEntry.TriggeredBy)
	assert.Equal(t, models.AccountStatusTrial, logEntry.NewStatus)

	orgID, err := identity.PrimaryOrganization(ctx, result.Owner.ID)
	require.NoError(t, err)
	assert.Equal(t, org.ID, orgID)
}

func TestProvisionRoleFailureCompensatesEverything(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	identity := &failingIdentity{IdentityService: NewIdentityService(db, "test-secret", time.Minute), failAssign: true}
	svc := newTestProvisioning(t, identity, db)

	_, err := svc.ProvisionTenant(ctx, ProvisionRequest{BusinessName: "Harbor Homes", OwnerEmail: "a@harbor.example"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProvisioningStep)

	var stepErr *ProvisioningStepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, "assign_role", stepErr.Step)
	assert.Empty(t, stepErr.CompensationErrs)

	assert.Equal(t, int64(0), countRows(t, db, &models.Organization{}))
	assert.Equal(t, int64(0), countRows(t, db, &models.User{}))
	assert.Equal(t, int64(0), countRows(t, db, &models.UserRole{}))
	assert.Equal(t, int64(0), countRows(t, db, &models.CreditLedgerEntry{}))
}

func TestProvisionLinkFailureRevokesRole(t *testing.T) {
	db := dbtest.Open(t)
	identity := &failingIdentity{IdentityService: NewIdentityService(db, "test-secret", time.Minute), failLink: true}
	svc := newTestProvisioning(t, identity, db)

	_, err := svc.ProvisionTenant(context.Background(), ProvisionRequest{BusinessName: "Harbor Homes", OwnerEmail: "b@harbor.example"})
	assert.ErrorIs(t, err, ErrProvisioningStep)

	assert.Equal(t, int64(0), countRows(t, db, &models.Organization{}))
	assert.Equal(t, int64(0), countRows(t, db, &models.User{}))
	assert.Equal(t, int64(0), countRows(t, db, &models.UserRole{}))
	assert.Equal(t, int64(0), countRows(t, db, &models.OrganizationMember{}))
}

func TestProvisionDuplicateEmailCompensatesOrganization(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	svc := newTestProvisioning(t, NewIdentityService(db, "test-secret", time.Minute), db)

	_, err := svc.ProvisionTenant(ctx, ProvisionRequest{BusinessName: "First", OwnerEmail: "dup@example.com"})
	require.NoError(t, err)

	_, err = svc.ProvisionTenant(ctx, ProvisionRequest{BusinessName: "Second", OwnerEmail: "dup@example.com"})
	assert.ErrorIs(t, err, ErrProvisioningStep)
	assert.ErrorIs(t, err, ErrEmailTaken)
	assert.Equal(t, int64(1), countRows(t, db, &models.Organization{}))
}

func TestSlugCollisionsAreSuffixed(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	svc := newTestProvisioning(t, NewIdentityService(db, "test-secret", time.Minute), db)

	first, err := svc.ProvisionTenant(ctx, ProvisionRequest{BusinessName: "Café Déjà Vu", OwnerEmail: "one@cafe.example"})
	require.NoError(t, err)
	second, err := svc.ProvisionTenant(ctx, ProvisionRequest{BusinessName: "Cafe Deja Vu", OwnerEmail: "two@cafe.example"})
	require.NoError(t, err)
	third, err := svc.ProvisionTenant(ctx, ProvisionRequest{BusinessName: "CAFÉ déjà vu!", OwnerEmail: "three@cafe.example"})
	require.NoError(t, err)

	assert.Equal(t, "cafe-deja-vu", first.Organization.Slug)
	assert.Equal(t, "cafe-deja-vu-1", second.Organization.Slug)
	assert.Equal(t, "cafe-deja-vu-2", third.Organization.Slug)
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Café Déjà Vu":         "cafe-deja-vu",
		"  Sunset   Realty  ":  "sunset-realty",
		"Ünïcödé & Co.":        "unicode-co",
		"---":                  "org",
		"Straße 42":            "strae-42",
		"Real Estate (Berlin)": "real-estate-berlin",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), in)
	}
}

func TestCompedTenantSkipsTrial(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	svc := newTestProvisioning(t, NewIdentityService(db, "test-secret", time.Minute), db)

	result, err := svc.ProvisionTenant(ctx, ProvisionRequest{BusinessName: "Partner", OwnerEmail: "p@partner.example", Comped: true})
	require.NoError(t, err)

	assert.Equal(t, models.AccountStatusActive, result.Organization.AccountStatus)
	assert.True(t, result.Organization.IsComped)
	assert.Nil(t, result.Organization.TrialEndsAt)

	balance, err := svc.ledger.Balance(ctx, result.Organization.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestWelcomeGrantIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	svc := newTestProvisioning(t, NewIdentityService(db, "test-secret", time.Minute), db)

	result, err := svc.ProvisionTenant(ctx, ProvisionRequest{BusinessName: "Replay", OwnerEmail: "r@replay.example"})
	require.NoError(t, err)

	warnings := svc.runOptionalSteps(ctx, result.Organization, false)
	assert.Empty(t, warnings)

	balance, err := svc.ledger.Balance(ctx, result.Organization.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)
}
