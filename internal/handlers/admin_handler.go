package handlers

import (
	"log/slog"

	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/dto"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/models"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/services"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// AdminHandler exposes operator actions: manual grants, refunds, audit and
// ledger checks, sweeps and reconciliation.
type AdminHandler struct {
	billing    *services.BillingService
	ledger     *services.LedgerService
	lifecycle  *services.LifecycleService
	reconciler *services.Reconciler
}

func NewAdminHandler(billing *services.BillingService, ledger *services.LedgerService, lifecycle *services.LifecycleService, reconciler *services.Reconciler) *AdminHandler {
	return &AdminHandler{
		billing:    billing,
		ledger:     ledger,
		lifecycle:  lifecycle,
		reconciler: reconciler,
	}
}

func (h *AdminHandler) Grant(c *fiber.Ctx) error {
	orgID, err := uuid.Parse(c.Params("org_id"))
	if err != nil {
		return badRequest(c, "Invalid organization id")
	}

	var req dto.GrantRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	entry, err := h.billing.GrantManual(c.UserContext(), orgID, req.Amount, req.Description, req.IdempotencyKey)
	if err != nil {
		return respondError(c, err)
	}

	slog.Info("manual grant", "organization_id", orgID, "amount", req.Amount, "entry_id", entry.ID)
	return c.Status(fiber.StatusCreated).JSON(toLedgerEntryResponse(*entry))
}

// Refund compensates a grant. A reason turns it into a reversal.
func (h *AdminHandler) Refund(c *fiber.Ctx) error {
	orgID, err := uuid.Parse(c.Params("org_id"))
	if err != nil {
		return badRequest(c, "Invalid organization id")
	}
	entryID, err := uuid.Parse(c.Params("entry_id"))
	if err != nil {
		return badRequest(c, "Invalid entry id")
	}

	var req dto.RefundRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
	}

	ctx := c.UserContext()
	var entry *models.CreditLedgerEntry
	if req.Reason != "" {
		entry, err = h.ledger.Reverse(ctx, orgID, entryID, req.Reason)
	} else {
		entry, err = h.ledger.Refund(ctx, orgID, entryID)
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(toLedgerEntryResponse(*entry))
}

func (h *AdminHandler) Lifecycle(c *fiber.Ctx) error {
	orgID, err := uuid.Parse(c.Params("org_id"))
	if err != nil {
		return badRequest(c, "Invalid organization id")
	}
	if _, err := h.lifecycle.Organization(c.UserContext(), orgID); err != nil {
		return respondError(c, err)
	}

	limit, _ := pageParams(c)
	logs, err := h.lifecycle.History(c.UserContext(), orgID, limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"organization_id": orgID, "entries": logs})
}

func (h *AdminHandler) VerifyLedger(c *fiber.Ctx) error {
	orgID, err := uuid.Parse(c.Params("org_id"))
	if err != nil {
		return badRequest(c, "Invalid organization id")
	}

	check, err := h.ledger.VerifyProjection(c.UserContext(), orgID)
	if err != nil {
		return respondError(c, err)
	}
	if !check.Consistent {
		slog.Error("ledger projection mismatch",
			"organization_id", orgID, "ledger_sum", check.LedgerSum, "counter", check.Counter)
	}
	return c.JSON(check)
}

func (h *AdminHandler) SweepGracePeriods(c *fiber.Ctx) error {
	n, err := h.lifecycle.SweepExpiredGracePeriods(c.UserContext())
	return sweepResponse(c, "grace_periods", n, err)
}

func (h *AdminHandler) SweepTrials(c *fiber.Ctx) error {
	n, err := h.lifecycle.ExpireTrials(c.UserContext())
	return sweepResponse(c, "trials", n, err)
}

// sweepResponse keeps the partial count when some organizations failed.
func sweepResponse(c *fiber.Ctx, sweep string, n int, err error) error {
	resp := dto.SweepResponse{Sweep: sweep, Transitioned: n}
	if err == nil {
		return c.JSON(resp)
	}

	slog.Error("sweep failed", "action", "sweep_"+sweep, "transitioned", n, "error", err)
	if hub := sentryfiber.GetHubFromContext(c); hub != nil {
		hub.CaptureException(err)
	}
	resp.Error = err.Error()
	return c.Status(fiber.StatusInternalServerError).JSON(resp)
}

func (h *AdminHandler) Reconcile(c *fiber.Ctx) error {
	report, err := h.reconciler.Run(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(report)
}
