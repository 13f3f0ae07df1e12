package handlers

import (
	"errors"
	"log/slog"

	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/dto"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/services"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/tenant"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/gofiber/fiber/v2"
)

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{services.ErrAuthentication, fiber.StatusUnauthorized, "authentication_failed"},
	{services.ErrInvalidCredentials, fiber.StatusUnauthorized, "invalid_credentials"},
	{tenant.ErrMissingOrganization, fiber.StatusUnauthorized, "missing_organization"},
	{services.ErrInsufficientBalance, fiber.StatusPaymentRequired, "insufficient_balance"},
	{services.ErrSpendingDisabled, fiber.StatusForbidden, "spending_disabled"},
	{services.ErrOrganizationNotFound, fiber.StatusNotFound, "organization_not_found"},
	{services.ErrEntryNotFound, fiber.StatusNotFound, "entry_not_found"},
	{services.ErrFeatureNotFound, fiber.StatusNotFound, "feature_not_found"},
	{services.ErrUserNotFound, fiber.StatusNotFound, "user_not_found"},
	{services.ErrEmailTaken, fiber.StatusConflict, "email_taken"},
	{services.ErrProvisioningStep, fiber.StatusUnprocessableEntity, "provisioning_failed"},
	{services.ErrInvalidAmount, fiber.StatusBadRequest, "invalid_amount"},
	{services.ErrInvalidFeature, fiber.StatusBadRequest, "invalid_feature"},
	{services.ErrNotCompensable, fiber.StatusBadRequest, "not_compensable"},
}

// respondError maps service errors to HTTP responses. Anything unmapped is a
// server error: logged, reported to Sentry, and hidden from the client.
func respondError(c *fiber.Ctx, err error) error {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return c.Status(m.status).JSON(dto.ErrorResponse{
				Error:   true,
				Message: err.Error(),
				Code:    m.code,
			})
		}
	}

	slog.Error("request failed",
		"method", c.Method(),
		"path", c.Path(),
		"request_id", c.GetRespHeader(fiber.HeaderXRequestID),
		"error", err,
	)
	if hub := sentryfiber.GetHubFromContext(c); hub != nil {
		hub.CaptureException(err)
	}
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
		Error:   true,
		Message: "Internal server error",
	})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error: true, Message: message,
	})
}
