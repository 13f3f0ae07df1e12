package handlers

import (
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/dto"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/services"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/tenant"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type FeatureHandler struct {
	features  *services.FeatureService
	lifecycle *services.LifecycleService
}

func NewFeatureHandler(features *services.FeatureService, lifecycle *services.LifecycleService) *FeatureHandler {
	return &FeatureHandler{features: features, lifecycle: lifecycle}
}

// GetFeatures returns the caller's organization features as typed values.
func (h *FeatureHandler) GetFeatures(c *fiber.Ctx) error {
	orgID, err := tenant.GetOrganizationID(c)
	if err != nil {
		return respondError(c, err)
	}

	values, err := h.features.Values(c.UserContext(), orgID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(values)
}

// SetFeature sets or updates a feature key (admin only)
func (h *FeatureHandler) SetFeature(c *fiber.Ctx) error {
	orgID, err := uuid.Parse(c.Params("org_id"))
	if err != nil {
		return badRequest(c, "Invalid organization id")
	}
	key := c.Params("key")
	if key == "" {
		return badRequest(c, "Key parameter is required")
	}

	var payload dto.FeatureRequest
	if err := c.BodyParser(&payload); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if payload.Value == "" {
		return badRequest(c, "Value is required")
	}

	if _, err := h.lifecycle.Organization(c.UserContext(), orgID); err != nil {
		return respondError(c, err)
	}

	feature, err := h.features.Set(c.UserContext(), orgID, key, payload.Value, payload.Type)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"error":   false,
		"message": "Feature updated successfully",
		"feature": fiber.Map{
			"organization_id": feature.OrganizationID,
			"key":             feature.Key,
			"value":           feature.Value,
			"type":            feature.Type,
		},
	})
}

// DeleteFeature deletes a feature key (admin only)
func (h *FeatureHandler) DeleteFeature(c *fiber.Ctx) error {
	orgID, err := uuid.Parse(c.Params("org_id"))
	if err != nil {
		return badRequest(c, "Invalid organization id")
	}

	if err := h.features.Delete(c.UserContext(), orgID, c.Params("key")); err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"error":   false,
		"message": "Feature deleted successfully",
	})
}
