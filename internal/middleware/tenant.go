package middleware

import (
	"context"
	"errors"

	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/dto"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/services"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/tenant"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// MembershipResolver finds the organization a user acts for when the token
// carries no org_id claim.
type MembershipResolver interface {
	PrimaryOrganization(ctx context.Context, userID uuid.UUID) (uuid.UUID, error)
}

// OrganizationScope resolves the caller's organization from the org_id JWT
// claim, falling back to the user's primary membership. Must run after
// JWTProtected.
func OrganizationScope(resolver MembershipResolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if orgID, err := tenant.ClaimOrganizationID(c); err == nil && orgID != uuid.Nil {
			tenant.SetOrganizationID(c, orgID)
			return c.Next()
		}

		userID, err := tenant.GetUserID(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "Invalid token subject",
			})
		}

		orgID, err := resolver.PrimaryOrganization(c.UserContext(), userID)
		if err != nil {
			status := fiber.StatusInternalServerError
			message := "Failed to resolve organization"
			if errors.Is(err, services.ErrOrganizationNotFound) {
				status = fiber.StatusForbidden
				message = "User does not belong to an organization"
			}
			return c.Status(status).JSON(dto.ErrorResponse{
				Error: true, Message: message, Code: "missing_organization",
			})
		}

		tenant.SetOrganizationID(c, orgID)
		return c.Next()
	}
}
