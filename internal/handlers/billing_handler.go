package handlers

import (
	"strings"

	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/dto"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/models"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/services"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/tenant"
	"github.com/gofiber/fiber/v2"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// BillingHandler serves the collaborator API for the caller's organization.
type BillingHandler struct {
	billing *services.BillingService
}

func NewBillingHandler(billing *services.BillingService) *BillingHandler {
	return &BillingHandler{billing: billing}
}

func (h *BillingHandler) Balance(c *fiber.Ctx) error {
	orgID, err := tenant.GetOrganizationID(c)
	if err != nil {
		return respondError(c, err)
	}

	balance, err := h.billing.GetBalance(c.UserContext(), orgID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.BalanceResponse{OrganizationID: orgID, Balance: balance})
}

func (h *BillingHandler) Status(c *fiber.Ctx) error {
	orgID, err := tenant.GetOrganizationID(c)
	if err != nil {
		return respondError(c, err)
	}

	view, err := h.billing.GetAccountStatus(c.UserContext(), orgID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(view)
}

// Consume debits credits before a metered action runs. 402 means the caller
// must not perform the action.
func (h *BillingHandler) Consume(c *fiber.Ctx) error {
	orgID, err := tenant.GetOrganizationID(c)
	if err != nil {
		return respondError(c, err)
	}

	var req dto.ConsumeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	req.FeatureType = strings.TrimSpace(req.FeatureType)
	if req.FeatureType == "" {
		return badRequest(c, "feature_type is required")
	}
	if req.CreditCost <= 0 {
		return badRequest(c, "credit_cost must be greater than zero")
	}

	entry, err := h.billing.RequestConsumption(c.UserContext(), orgID, req.FeatureType, req.CreditCost)
	if err != nil {
		return respondError(c, err)
	}

	balance, err := h.billing.GetBalance(c.UserContext(), orgID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.ConsumeResponse{EntryID: entry.ID, Balance: balance})
}

func (h *BillingHandler) Ledger(c *fiber.Ctx) error {
	orgID, err := tenant.GetOrganizationID(c)
	if err != nil {
		return respondError(c, err)
	}

	limit, offset := pageParams(c)
	entries, total, err := h.billing.LedgerHistory(c.UserContext(), orgID, limit, offset)
	if err != nil {
		return respondError(c, err)
	}

	resp := dto.LedgerResponse{
		Entries: make([]dto.LedgerEntryResponse, 0, len(entries)),
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, toLedgerEntryResponse(e))
	}
	return c.JSON(resp)
}

func toLedgerEntryResponse(e models.CreditLedgerEntry) dto.LedgerEntryResponse {
	return dto.LedgerEntryResponse{
		ID:          e.ID,
		Amount:      e.Amount,
		Action:      string(e.Action),
		Source:      string(e.Source),
		Description: e.Description,
		FeatureType: e.FeatureType,
		CreatedAt:   e.CreatedAt,
	}
}

func pageParams(c *fiber.Ctx) (int, int) {
	limit := c.QueryInt("limit", defaultPageSize)
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
