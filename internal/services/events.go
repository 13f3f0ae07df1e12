package services

// EventCategory is the closed set of provider event types the ingestor acts on.
// Anything else maps to EventUnknown and is acknowledged without side effects.
type EventCategory int

const (
	EventUnknown EventCategory = iota
	EventCheckoutCompleted
	EventSubscriptionCreated
	EventSubscriptionUpdated
	EventSubscriptionDeleted
	EventInvoicePaid
	EventInvoicePaymentFailed
	EventChargeRefunded
	EventDisputeCreated
)

var eventCategories = map[string]EventCategory{
	"checkout.session.completed":    EventCheckoutCompleted,
	"customer.subscription.created": EventSubscriptionCreated,
	"customer.subscription.updated": EventSubscriptionUpdated,
	"customer.subscription.deleted": EventSubscriptionDeleted,
	"invoice.payment_succeeded":     EventInvoicePaid,
	"invoice.paid":                  EventInvoicePaid,
	"invoice.payment_failed":        EventInvoicePaymentFailed,
	"charge.refunded":               EventChargeRefunded,
	"charge.dispute.created":        EventDisputeCreated,
}

func CategorizeEvent(eventType string) EventCategory {
	if c, ok := eventCategories[eventType]; ok {
		return c
	}
	return EventUnknown
}

func (c EventCategory) String() string {
	switch c {
	case EventCheckoutCompleted:
		return "checkout_completed"
	case EventSubscriptionCreated:
		return "subscription_created"
	case EventSubscriptionUpdated:
		return "subscription_updated"
	case EventSubscriptionDeleted:
		return "subscription_deleted"
	case EventInvoicePaid:
		return "invoice_paid"
	case EventInvoicePaymentFailed:
		return "invoice_payment_failed"
	case EventChargeRefunded:
		return "charge_refunded"
	case EventDisputeCreated:
		return "dispute_created"
	default:
		return "unknown"
	}
}
