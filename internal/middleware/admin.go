package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"strings"

	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/config"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/dto"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/tenant"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const adminTokenHeader = "X-Admin-Token"

// AdminChecker reports platform-level admin roles.
type AdminChecker interface {
	IsPlatformAdmin(ctx context.Context, userID uuid.UUID) (bool, error)
}

// AdminRequired is a unified admin middleware that checks:
// 1. The X-Admin-Token header
// 2. Config-based admin emails/IDs
// 3. The platform_admin role
func AdminRequired(cfg *config.Config, checker AdminChecker) fiber.Handler {
	adminEmails := parseCSV(cfg.AdminEmails)
	adminUserIDs := parseCSV(cfg.AdminUserIDs)

	return func(c *fiber.Ctx) error {
		if validAdminToken(c, cfg.AdminToken) {
			return c.Next()
		}

		userID, err := tenant.GetUserID(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "Unauthorized",
			})
		}

		if contains(adminEmails, tenant.GetEmail(c)) || contains(adminUserIDs, userID.String()) {
			return c.Next()
		}

		ok, err := checker.IsPlatformAdmin(c.UserContext(), userID)
		if err != nil {
			slog.Error("admin role lookup failed", "user_id", userID, "error", err)
		}
		if ok {
			return c.Next()
		}

		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
			Error: true, Message: "Admin access required",
		})
	}
}

func validAdminToken(c *fiber.Ctx, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Get(adminTokenHeader)), []byte(expected)) == 1
}

func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func contains(list []string, val string) bool {
	if val == "" {
		return false
	}
	for _, item := range list {
		if strings.EqualFold(item, val) {
			return true
		}
	}
	return false
}
