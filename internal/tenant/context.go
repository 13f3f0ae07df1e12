package tenant

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const orgLocalKey = "organization_id"

var ErrMissingOrganization = errors.New("missing organization in context")

// SetOrganizationID stores the resolved tenant on the request.
func SetOrganizationID(c *fiber.Ctx, orgID uuid.UUID) {
	c.Locals(orgLocalKey, orgID)
}

// GetOrganizationID extracts the tenant resolved by the organization middleware.
func GetOrganizationID(c *fiber.Ctx) (uuid.UUID, error) {
	if orgID, ok := c.Locals(orgLocalKey).(uuid.UUID); ok && orgID != uuid.Nil {
		return orgID, nil
	}
	return uuid.Nil, ErrMissingOrganization
}

// GetUserID extracts the user UUID from JWT claims in context.
func GetUserID(c *fiber.Ctx) (uuid.UUID, error) {
	sub, err := claimString(c, "sub")
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(sub)
}

// ClaimOrganizationID reads the org_id claim issued at signup.
func ClaimOrganizationID(c *fiber.Ctx) (uuid.UUID, error) {
	raw, err := claimString(c, "org_id")
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(raw)
}

// GetEmail returns the email claim, or "" when absent.
func GetEmail(c *fiber.Ctx) string {
	email, _ := claimString(c, "email")
	return email
}

func claimString(c *fiber.Ctx, name string) (string, error) {
	token, ok := c.Locals("user").(*jwt.Token)
	if !ok {
		return "", errors.New("invalid token in context")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}

	value, ok := claims[name].(string)
	if !ok || value == "" {
		return "", errors.New("missing " + name + " claim")
	}
	return value, nil
}
