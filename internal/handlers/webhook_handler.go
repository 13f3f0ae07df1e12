package handlers

import (
	"errors"
	"log/slog"

	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/dto"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/services"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/gofiber/fiber/v2"
)

const stripeSignatureHeader = "Stripe-Signature"

type WebhookHandler struct {
	ingestor *services.WebhookIngestor
}

func NewWebhookHandler(ingestor *services.WebhookIngestor) *WebhookHandler {
	return &WebhookHandler{ingestor: ingestor}
}

// HandleStripe verifies the signature over the raw body and ingests the event.
// Duplicates are acknowledged with 200 so the provider stops retrying.
func (h *WebhookHandler) HandleStripe(c *fiber.Ctx) error {
	// Body is reused by fasthttp after the handler returns.
	payload := append([]byte(nil), c.Body()...)

	result, err := h.ingestor.Ingest(c.UserContext(), payload, c.Get(stripeSignatureHeader))
	switch {
	case err == nil:
	case errors.Is(err, services.ErrAuthentication):
		slog.Warn("webhook rejected", "ip", c.IP(), "error", err)
		return respondError(c, err)
	case result != nil:
		// Claimed and queued for reconciliation; the provider's retry is acknowledged as a duplicate.
		slog.Error("webhook dispatch failed",
			"action", "webhook_dispatch",
			"event_id", result.EventID,
			"event_type", result.EventType,
			"error", err,
		)
		if hub := sentryfiber.GetHubFromContext(c); hub != nil {
			hub.CaptureException(err)
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error:   true,
			Message: "Event processing failed",
			Code:    "dispatch_failed",
		})
	default:
		return respondError(c, err)
	}

	return c.JSON(dto.WebhookReceivedResponse{
		Received:  true,
		EventID:   result.EventID,
		Duplicate: result.Duplicate,
	})
}
