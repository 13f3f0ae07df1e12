package dto

import "strings"

// Minimal shapes of the Stripe objects carried in event.data.object. Only the
// fields the billing engine reads are decoded.

type StripeCheckoutSession struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	PaymentIntent     string            `json:"payment_intent"`
	Invoice           string            `json:"invoice"`
	PaymentStatus     string            `json:"payment_status"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

type StripeSubscription struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Status   string `json:"status"`
	Items    struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Metadata         map[string]string `json:"metadata"`
	LatestInvoice    string            `json:"latest_invoice"`
	StartDate        int64             `json:"start_date"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	CanceledAt       int64             `json:"canceled_at"`
	EndedAt          int64             `json:"ended_at"`
}

// FirstPriceID returns the price ID from the first subscription item.
func (s *StripeSubscription) FirstPriceID() string {
	for _, item := range s.Items.Data {
		if priceID := strings.TrimSpace(item.Price.ID); priceID != "" {
			return priceID
		}
	}
	return ""
}

type StripeInvoice struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	Subscription  string `json:"subscription"`
	BillingReason string `json:"billing_reason"`
	PaymentIntent string `json:"payment_intent"`
	Lines         struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
			Pricing struct {
				PriceDetails struct {
					Price string `json:"price"`
				} `json:"price_details"`
			} `json:"pricing"`
			Metadata map[string]string `json:"metadata"`
		} `json:"data"`
	} `json:"lines"`
	Parent struct {
		SubscriptionDetails struct {
			Subscription string            `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Metadata map[string]string `json:"metadata"`
}

// SubscriptionID covers both the legacy top-level field and the newer parent block.
func (i *StripeInvoice) SubscriptionID() string {
	if i.Subscription != "" {
		return i.Subscription
	}
	return i.Parent.SubscriptionDetails.Subscription
}

func (i *StripeInvoice) FirstPriceID() string {
	for _, line := range i.Lines.Data {
		if line.Price.ID != "" {
			return line.Price.ID
		}
		if line.Pricing.PriceDetails.Price != "" {
			return line.Pricing.PriceDetails.Price
		}
	}
	return ""
}

// MetadataValue looks up key on the invoice, its subscription details and its lines.
func (i *StripeInvoice) MetadataValue(key string) string {
	if v := i.Metadata[key]; v != "" {
		return v
	}
	if v := i.Parent.SubscriptionDetails.Metadata[key]; v != "" {
		return v
	}
	for _, line := range i.Lines.Data {
		if v := line.Metadata[key]; v != "" {
			return v
		}
	}
	return ""
}

type StripeCharge struct {
	ID            string            `json:"id"`
	Customer      string            `json:"customer"`
	Invoice       string            `json:"invoice"`
	PaymentIntent string            `json:"payment_intent"`
	Refunded      bool              `json:"refunded"`
	Metadata      map[string]string `json:"metadata"`
}

type StripeDispute struct {
	ID            string            `json:"id"`
	Charge        string            `json:"charge"`
	PaymentIntent string            `json:"payment_intent"`
	Reason        string            `json:"reason"`
	Metadata      map[string]string `json:"metadata"`
}

// WebhookReceivedResponse acknowledges a delivery, including duplicates.
type WebhookReceivedResponse struct {
	Received  bool   `json:"received"`
	EventID   string `json:"event_id,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}
