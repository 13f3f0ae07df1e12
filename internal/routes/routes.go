package routes

import (
	"time"

	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/config"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handlers struct {
	Health   *handlers.HealthHandler
	Webhook  *handlers.WebhookHandler
	Signup   *handlers.SignupHandler
	Billing  *handlers.BillingHandler
	Features *handlers.FeatureHandler
	Admin    *handlers.AdminHandler
}

func Setup(app *fiber.App, cfg *config.Config, identity *services.IdentityService, h Handlers) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Provider webhooks: signature-authenticated and registered ahead of the
	// per-IP limiter so retry bursts are never throttled.
	app.Post("/api/webhooks/stripe", h.Webhook.HandleStripe)

	api := app.Group("/api")

	// General API rate limiter: 60 req/min per IP
	api.Use(limiter.New(limiter.Config{
		Max:               60,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))

	api.Get("/health", h.Health.Check)

	// Signup and login: 10 req/min per IP (stricter)
	strict := limiter.New(limiter.Config{
		Max:               10,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	})
	api.Post("/signup", strict, h.Signup.Signup)
	api.Post("/auth/login", strict, h.Signup.Login)

	// Collaborator API, scoped to the caller's organization
	billing := api.Group("/billing", middleware.JWTProtected(cfg), middleware.OrganizationScope(identity))
	billing.Get("/balance", h.Billing.Balance)
	billing.Get("/status", h.Billing.Status)
	billing.Post("/consume", h.Billing.Consume)
	billing.Get("/ledger", h.Billing.Ledger)

	api.Get("/features", middleware.JWTProtected(cfg), middleware.OrganizationScope(identity), h.Features.GetFeatures)

	// Admin (JWT + admin role, or X-Admin-Token)
	admin := api.Group("/admin", middleware.AdminJWT(cfg), middleware.AdminRequired(cfg, identity))
	orgs := admin.Group("/organizations/:org_id")
	orgs.Post("/grants", h.Admin.Grant)
	orgs.Post("/entries/:entry_id/refund", h.Admin.Refund)
	orgs.Get("/lifecycle", h.Admin.Lifecycle)
	orgs.Get("/ledger/verify", h.Admin.VerifyLedger)
	orgs.Put("/features/:key", h.Features.SetFeature)
	orgs.Delete("/features/:key", h.Features.DeleteFeature)

	admin.Post("/sweeps/grace-periods", h.Admin.SweepGracePeriods)
	admin.Post("/sweeps/trials", h.Admin.SweepTrials)
	admin.Post("/reconcile", h.Admin.Reconcile)
}
