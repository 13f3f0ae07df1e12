package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/dto"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/models"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/plans"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Metadata keys set on Stripe checkout sessions and subscriptions at checkout.
const (
	MetadataOrganizationID = "organization_id"
	MetadataPlan           = "plan"
	MetadataCredits        = "credits"
)

const billingReasonSubscriptionCreate = "subscription_create"

type IngestResult struct {
	EventID   string
	EventType string
	Category  EventCategory
	Duplicate bool
}

// WebhookIngestor verifies, claims and dispatches Stripe events. Credit effects
// are keyed by provider ids so a replay through Dispatch cannot grant twice.
type WebhookIngestor struct {
	secret    string
	events    *EventStore
	ledger    *LedgerService
	lifecycle *LifecycleService
	plans     *plans.Registry
}

func NewWebhookIngestor(secret string, events *EventStore, ledger *LedgerService, lifecycle *LifecycleService, registry *plans.Registry) *WebhookIngestor {
	return &WebhookIngestor{
		secret:    secret,
		events:    events,
		ledger:    ledger,
		lifecycle: lifecycle,
		plans:     registry,
	}
}

// Ingest handles one delivery. Duplicates return a result with Duplicate set
// and a nil error. A dispatch error leaves the event claimed and queued for
// reconciliation.
func (w *WebhookIngestor) Ingest(ctx context.Context, payload []byte, signature string) (*IngestResult, error) {
	if strings.TrimSpace(w.secret) == "" {
		return nil, fmt.Errorf("%w: webhook secret not configured", ErrAuthentication)
	}
	if strings.TrimSpace(signature) == "" {
		return nil, fmt.Errorf("%w: missing signature", ErrAuthentication)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, w.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	result := &IngestResult{
		EventID:   event.ID,
		EventType: string(event.Type),
		Category:  CategorizeEvent(string(event.Type)),
	}

	start := time.Now()
	outcome := "processed"
	defer func() {
		metrics.WebhookEventsTotal.WithLabelValues(result.Category.String(), outcome).Inc()
		metrics.WebhookDuration.WithLabelValues(result.Category.String()).Observe(time.Since(start).Seconds())
	}()

	if err := w.events.Claim(ctx, event.ID, string(event.Type), payload); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			outcome = "duplicate"
			result.Duplicate = true
			slog.Info("duplicate webhook delivery acknowledged", "event_id", event.ID, "type", event.Type)
			return result, nil
		}
		outcome = "error"
		return nil, err
	}

	if result.Category == EventUnknown {
		outcome = "ignored"
	}

	if err := w.Dispatch(ctx, &event); err != nil {
		outcome = "failed"
		if recErr := w.events.RecordFailure(ctx, event.ID, string(event.Type), err); recErr != nil {
			slog.Error("failed to queue event for reconciliation", "event_id", event.ID, "error", recErr)
		}
		return result, fmt.Errorf("dispatch event %s: %w", event.ID, err)
	}
	return result, nil
}

// Dispatch applies a verified event. It is also the replay entry point for reconciliation.
func (w *WebhookIngestor) Dispatch(ctx context.Context, event *stripe.Event) error {
	category := CategorizeEvent(string(event.Type))
	eventAt := time.Unix(event.Created, 0).UTC()
	if event.Created == 0 {
		eventAt = time.Now().UTC()
	}

	switch category {
	case EventCheckoutCompleted:
		var session dto.StripeCheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("decode checkout.session: %w", err)
		}
		return w.handleCheckout(ctx, event.ID, eventAt, &session)

	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub dto.StripeSubscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return w.handleSubscription(ctx, event.ID, eventAt, &sub, category == EventSubscriptionDeleted)

	case EventInvoicePaid, EventInvoicePaymentFailed:
		var invoice dto.StripeInvoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		if category == EventInvoicePaid {
			return w.handleInvoicePaid(ctx, event.ID, eventAt, &invoice)
		}
		return w.handleInvoiceFailed(ctx, event.ID, &invoice)

	case EventChargeRefunded:
		var charge dto.StripeCharge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return fmt.Errorf("decode charge: %w", err)
		}
		return w.handleChargeRefunded(ctx, event.ID, &charge)

	case EventDisputeCreated:
		var dispute dto.StripeDispute
		if err := json.Unmarshal(event.Data.Raw, &dispute); err != nil {
			return fmt.Errorf("decode dispute: %w", err)
		}
		return w.handleDispute(ctx, event.ID, &dispute)

	default:
		slog.Info("webhook event ignored",
			"event_id", event.ID, "type", event.Type, "error", ErrUnknownEventType)
		return nil
	}
}

func (w *WebhookIngestor) handleCheckout(ctx context.Context, eventID string, eventAt time.Time, s *dto.StripeCheckoutSession) error {
	orgID, err := w.resolveOrganization(ctx, eventID, s.Customer, s.Metadata[MetadataOrganizationID], s.ClientReferenceID)
	if err != nil {
		return err
	}

	switch s.Mode {
	case "subscription":
		plan := w.plans.Resolve("", s.Metadata[MetadataPlan])
		update := ProfileUpdate{
			OrganizationID:       orgID,
			StripeCustomerID:     s.Customer,
			StripeSubscriptionID: s.Subscription,
			EventAt:              eventAt,
		}
		if plan != nil {
			update.SubscriptionPlan = plan.ID
		}
		applied, err := w.lifecycle.UpsertBillingProfile(ctx, update)
		if err != nil {
			return err
		}

		transition := Transition{
			OrganizationID: orgID,
			Trigger:        TriggerActivated,
			EventID:        eventID,
			Reason:         "Checkout completed",
			Metadata:       map[string]interface{}{"checkout_session": s.ID, "subscription": s.Subscription},
			Grant:          planGrant(plan, eventID, s.Invoice, s.PaymentIntent),
		}
		if !applied {
			transition.Trigger = TriggerSubscriptionUpdated
			transition.Reason = "Stale checkout event ignored"
			transition.Grant = nil
		}
		_, err = w.lifecycle.Apply(ctx, transition)
		return err

	case "payment":
		credits, err := strconv.ParseInt(s.Metadata[MetadataCredits], 10, 64)
		if err != nil || credits <= 0 {
			slog.Warn("checkout payment without credit amount ignored",
				"event_id", eventID, "organization_id", orgID, "checkout_session", s.ID)
			return nil
		}
		_, err = w.ledger.Grant(ctx, GrantRequest{
			OrganizationID: orgID,
			Amount:         credits,
			Source:         models.LedgerSourcePurchase,
			Description:    fmt.Sprintf("Credit purchase (%d credits)", credits),
			IdempotencyKey: eventID,
			ExternalRef:    s.ID,
			PaymentRef:     s.PaymentIntent,
		})
		return err

	default:
		slog.Info("checkout mode ignored", "event_id", eventID, "mode", s.Mode)
		return nil
	}
}

func (w *WebhookIngestor) handleSubscription(ctx context.Context, eventID string, eventAt time.Time, sub *dto.StripeSubscription, deleted bool) error {
	orgID, err := w.resolveOrganization(ctx, eventID, sub.Customer, sub.Metadata[MetadataOrganizationID])
	if err != nil {
		return err
	}

	plan := w.plans.Resolve(sub.FirstPriceID(), sub.Metadata[MetadataPlan])
	trigger := subscriptionTrigger(sub.Status, deleted)

	update := ProfileUpdate{
		OrganizationID:        orgID,
		StripeCustomerID:      sub.Customer,
		StripeSubscriptionID:  sub.ID,
		SubscriptionStatus:    sub.Status,
		SubscriptionStartedAt: unixPtr(sub.StartDate),
		SubscriptionEndsAt:    unixPtr(sub.CurrentPeriodEnd),
		EventAt:               eventAt,
	}
	if deleted && update.SubscriptionStatus == "" {
		update.SubscriptionStatus = "canceled"
	}
	if plan != nil {
		update.SubscriptionPlan = plan.ID
	}
	if trigger == TriggerCanceled {
		update.UnsubscribedAt = unixPtr(sub.CanceledAt)
		if update.UnsubscribedAt == nil {
			update.UnsubscribedAt = &eventAt
		}
	}

	applied, err := w.lifecycle.UpsertBillingProfile(ctx, update)
	if err != nil {
		return err
	}

	transition := Transition{
		OrganizationID: orgID,
		Trigger:        trigger,
		EventID:        eventID,
		Reason:         "Subscription " + sub.Status,
		Metadata:       map[string]interface{}{"subscription": sub.ID, "subscription_status": sub.Status},
	}
	if update.UnsubscribedAt != nil {
		transition.OccurredAt = *update.UnsubscribedAt
	}
	if !applied {
		// An older snapshot must not move the account backwards.
		transition.Trigger = TriggerSubscriptionUpdated
		transition.Reason = "Stale subscription event ignored"
	} else if trigger == TriggerActivated {
		transition.Grant = planGrant(plan, eventID, sub.LatestInvoice, "")
	}

	_, err = w.lifecycle.Apply(ctx, transition)
	return err
}

func subscriptionTrigger(status string, deleted bool) LifecycleTrigger {
	if deleted || subscriptionEnded(status) {
		return TriggerCanceled
	}
	switch status {
	case "active", "trialing":
		return TriggerActivated
	case "past_due":
		return TriggerPaymentFailed
	default:
		return TriggerSubscriptionUpdated
	}
}

func subscriptionEnded(status string) bool {
	switch status {
	case "canceled", "unpaid", "incomplete_expired":
		return true
	}
	return false
}

// paidBeforeCancellation reports whether an invoice of the subscription the
// profile records as ended was paid no later than that cancellation.
func paidBeforeCancellation(profile *models.BillingProfile, subscriptionID string, paidAt time.Time) bool {
	if profile == nil || profile.UnsubscribedAt == nil || !subscriptionEnded(profile.SubscriptionStatus) {
		return false
	}
	if subscriptionID != "" && subscriptionID != profile.StripeSubscriptionID {
		return false
	}
	cutoff := *profile.UnsubscribedAt
	if profile.LastEventAt.After(cutoff) {
		cutoff = profile.LastEventAt
	}
	return !paidAt.After(cutoff)
}

func (w *WebhookIngestor) handleInvoicePaid(ctx context.Context, eventID string, eventAt time.Time, inv *dto.StripeInvoice) error {
	orgID, err := w.resolveOrganization(ctx, eventID, inv.Customer, inv.MetadataValue(MetadataOrganizationID))
	if err != nil {
		return err
	}

	profile, err := w.lifecycle.Profile(ctx, orgID)
	if err != nil {
		return err
	}

	plan := w.plans.Resolve(inv.FirstPriceID(), inv.MetadataValue(MetadataPlan))
	if plan == nil && profile != nil {
		plan = w.plans.Get(profile.SubscriptionPlan)
	}

	grant := planGrant(plan, eventID, inv.ID, inv.PaymentIntent)
	if grant != nil && inv.ID != "" {
		// invoice.paid and invoice.payment_succeeded describe the same payment.
		grant.IdempotencyKey = "invoice:" + inv.ID
	}

	transition := Transition{
		OrganizationID: orgID,
		Trigger:        TriggerInvoicePaid,
		EventID:        eventID,
		Reason:         "Invoice paid (" + inv.BillingReason + ")",
		Metadata:       map[string]interface{}{"invoice": inv.ID, "subscription": inv.SubscriptionID()},
		Grant:          grant,
		InitialInvoice: inv.BillingReason == billingReasonSubscriptionCreate,
	}
	if paidBeforeCancellation(profile, inv.SubscriptionID(), eventAt) {
		// A late invoice of the ended subscription must not resubscribe the account.
		transition.Trigger = TriggerSubscriptionUpdated
		transition.Reason = "Invoice predates subscription cancellation"
		transition.Grant = nil
	}
	_, err = w.lifecycle.Apply(ctx, transition)
	return err
}

func (w *WebhookIngestor) handleInvoiceFailed(ctx context.Context, eventID string, inv *dto.StripeInvoice) error {
	orgID, err := w.resolveOrganization(ctx, eventID, inv.Customer, inv.MetadataValue(MetadataOrganizationID))
	if err != nil {
		return err
	}
	_, err = w.lifecycle.Apply(ctx, Transition{
		OrganizationID: orgID,
		Trigger:        TriggerPaymentFailed,
		EventID:        eventID,
		Reason:         "Invoice payment failed",
		Metadata:       map[string]interface{}{"invoice": inv.ID},
	})
	return err
}

// handleChargeRefunded compensates the grant bought by a fully refunded charge.
func (w *WebhookIngestor) handleChargeRefunded(ctx context.Context, eventID string, ch *dto.StripeCharge) error {
	if !ch.Refunded {
		slog.Info("partial refund recorded without credit change", "event_id", eventID, "charge", ch.ID)
		return nil
	}

	profile, err := w.lifecycle.ProfileByCustomer(ctx, ch.Customer)
	if err != nil {
		return err
	}
	scope := uuid.Nil
	if profile != nil {
		scope = profile.OrganizationID
	}

	grant, err := w.ledger.FindByReference(ctx, scope, ch.Invoice, ch.PaymentIntent)
	if err != nil {
		return fmt.Errorf("charge %s: %w", ch.ID, err)
	}
	w.attach(ctx, eventID, grant.OrganizationID)

	entry, err := w.ledger.Refund(ctx, grant.OrganizationID, grant.ID)
	if err != nil {
		return err
	}
	_, err = w.lifecycle.Apply(ctx, Transition{
		OrganizationID: grant.OrganizationID,
		Trigger:        TriggerChargeRefunded,
		EventID:        eventID,
		Reason:         "Charge refunded",
		Metadata:       map[string]interface{}{"charge": ch.ID, "refund_entry_id": entry.ID.String()},
	})
	return err
}

func (w *WebhookIngestor) handleDispute(ctx context.Context, eventID string, d *dto.StripeDispute) error {
	grant, err := w.ledger.FindByReference(ctx, uuid.Nil, d.PaymentIntent)
	if err != nil {
		return fmt.Errorf("dispute %s: %w", d.ID, err)
	}
	w.attach(ctx, eventID, grant.OrganizationID)

	entry, err := w.ledger.Reverse(ctx, grant.OrganizationID, grant.ID, "Payment disputed ("+d.Reason+")")
	if err != nil {
		return err
	}
	_, err = w.lifecycle.Apply(ctx, Transition{
		OrganizationID: grant.OrganizationID,
		Trigger:        TriggerDisputeCreated,
		EventID:        eventID,
		Reason:         "Dispute opened",
		Metadata:       map[string]interface{}{"dispute": d.ID, "reversal_entry_id": entry.ID.String()},
	})
	return err
}

// resolveOrganization tries explicit organization ids first, then the billing
// profile of the provider customer.
func (w *WebhookIngestor) resolveOrganization(ctx context.Context, eventID, customerID string, candidates ...string) (uuid.UUID, error) {
	for _, raw := range candidates {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		if _, err := w.lifecycle.Organization(ctx, id); err != nil {
			if errors.Is(err, ErrOrganizationNotFound) {
				continue
			}
			return uuid.Nil, err
		}
		w.attach(ctx, eventID, id)
		return id, nil
	}

	profile, err := w.lifecycle.ProfileByCustomer(ctx, customerID)
	if err != nil {
		return uuid.Nil, err
	}
	if profile == nil {
		return uuid.Nil, fmt.Errorf("%w: no organization for event %s (customer %q)", ErrOrganizationNotFound, eventID, customerID)
	}
	w.attach(ctx, eventID, profile.OrganizationID)
	return profile.OrganizationID, nil
}

func (w *WebhookIngestor) attach(ctx context.Context, eventID string, orgID uuid.UUID) {
	if err := w.events.AttachOrganization(ctx, eventID, orgID); err != nil {
		slog.Warn("failed to attach organization to event", "event_id", eventID, "organization_id", orgID, "error", err)
	}
}

func planGrant(plan *plans.Plan, eventID, externalRef, paymentRef string) *GrantRequest {
	if plan == nil || plan.MonthlyCredits <= 0 {
		return nil
	}
	return &GrantRequest{
		Amount:         plan.MonthlyCredits,
		Source:         models.LedgerSourceSubscription,
		Description:    fmt.Sprintf("%s plan allotment", plan.Name),
		IdempotencyKey: eventID,
		ExternalRef:    externalRef,
		PaymentRef:     paymentRef,
	}
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
