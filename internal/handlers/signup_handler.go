package handlers

import (
	"log/slog"
	"net/mail"
	"strings"

	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/dto"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/models"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/services"
	"github.com/gofiber/fiber/v2"
)

type SignupHandler struct {
	provisioning *services.ProvisioningService
	identity     *services.IdentityService
}

func NewSignupHandler(provisioning *services.ProvisioningService, identity *services.IdentityService) *SignupHandler {
	return &SignupHandler{provisioning: provisioning, identity: identity}
}

// Signup provisions a trial tenant with its owner and returns an access token.
func (h *SignupHandler) Signup(c *fiber.Ctx) error {
	var req dto.SignupRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	req.BusinessName = strings.TrimSpace(req.BusinessName)
	req.OwnerEmail = strings.TrimSpace(req.OwnerEmail)
	if req.BusinessName == "" {
		return badRequest(c, "business_name is required")
	}
	if _, err := mail.ParseAddress(req.OwnerEmail); err != nil {
		return badRequest(c, "owner_email must be a valid email address")
	}
	if req.OwnerPassword != "" && len(req.OwnerPassword) < 8 {
		return badRequest(c, "owner_password must be at least 8 characters")
	}

	result, err := h.provisioning.ProvisionTenant(c.UserContext(), services.ProvisionRequest{
		BusinessName:  req.BusinessName,
		OwnerEmail:    req.OwnerEmail,
		OwnerPassword: req.OwnerPassword,
		OwnerName:     strings.TrimSpace(req.OwnerName),
	})
	if err != nil {
		return respondError(c, err)
	}

	resp := dto.SignupResponse{
		OrganizationID: result.Organization.ID,
		Slug:           result.Organization.Slug,
		OwnerID:        result.Owner.ID,
		Warnings:       result.Warnings,
	}

	// The tenant exists at this point; a token failure only costs a login.
	token, err := h.identity.IssueAccessToken(result.Owner, result.Organization.ID, models.RoleAdmin)
	if err != nil {
		slog.Error("failed to issue signup token",
			"organization_id", result.Organization.ID, "user_id", result.Owner.ID, "error", err)
		resp.Warnings = append(resp.Warnings, "access_token")
	} else {
		resp.AccessToken = token
	}

	return c.Status(fiber.StatusCreated).JSON(resp)
}

// Login exchanges owner credentials for a fresh access token.
func (h *SignupHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return badRequest(c, "email and password are required")
	}

	token, user, err := h.identity.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.LoginResponse{UserID: user.ID, AccessToken: token})
}
