package services

import (
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/config"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/plans"
	"gorm.io/gorm"
)

// Container holds the billing services wired to one database, shared by the
// HTTP server and the operator CLI.
type Container struct {
	Events       *EventStore
	Ledger       *LedgerService
	Lifecycle    *LifecycleService
	Ingestor     *WebhookIngestor
	Reconciler   *Reconciler
	Identity     *IdentityService
	Features     *FeatureService
	Provisioning *ProvisioningService
	Billing      *BillingService
}

func NewContainer(cfg *config.Config, db *gorm.DB, registry *plans.Registry) *Container {
	events := NewEventStore(db)
	ledger := NewLedgerService(db)
	lifecycle := NewLifecycleService(db, ledger, cfg.GracePeriod())
	ingestor := NewWebhookIngestor(cfg.StripeWebhookSecret, events, ledger, lifecycle, registry)
	identity := NewIdentityService(db, cfg.JWTSecret, cfg.JWTAccessExpiry)
	features := NewFeatureService(db)

	return &Container{
		Events:     events,
		Ledger:     ledger,
		Lifecycle:  lifecycle,
		Ingestor:   ingestor,
		Reconciler: NewReconciler(events, ingestor),
		Identity:   identity,
		Features:   features,
		Provisioning: NewProvisioningService(db, identity, ledger, features, registry, ProvisioningPolicy{
			TrialPeriod:  cfg.TrialPeriod(),
			TrialCredits: cfg.TrialCredits,
		}),
		Billing: NewBillingService(db, ledger),
	}
}
