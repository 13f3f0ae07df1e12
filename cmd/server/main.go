package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"

	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/config"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/database"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/logging"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/plans"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/routes"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/scheduler"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/services"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

func main() {
	// Structured logging (JSON to stdout)
	logging.Setup()

	cfg := config.Load()

	if cfg.JWTSecret == "" {
		slog.Error("JWT_SECRET environment variable is required")
		os.Exit(1)
	}
	if cfg.DBPassword == "" {
		slog.Error("DB_PASSWORD environment variable is required")
		os.Exit(1)
	}
	if cfg.StripeWebhookSecret == "" {
		slog.Warn("STRIPE_WEBHOOK_SECRET is not set; all webhook deliveries will be rejected")
	}

	// Plan catalog
	registry, err := plans.LoadFromFile(cfg.PlansConfigPath)
	if err != nil {
		slog.Error("failed to load plan catalog", "path", cfg.PlansConfigPath, "error", err)
		os.Exit(1)
	}
	slog.Info("plan catalog loaded", "plans", len(registry.All()))

	// Database
	if err := database.Connect(cfg); err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	if err := database.MigrateShared(); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}

	// PostgreSQL log handler (ERROR+ async batch)
	pgLogHandler := logging.AttachDatabase(database.DB)

	// Services
	svc := services.NewContainer(cfg, database.DB, registry)

	// Background jobs
	jobs, err := scheduler.New(scheduler.BillingJobs(cfg, database.DB, svc.Lifecycle, svc.Reconciler)...)
	if err != nil {
		slog.Error("scheduler setup failed", "error", err)
		os.Exit(1)
	}
	jobs.Start()

	// Handlers
	h := routes.Handlers{
		Health:   handlers.NewHealthHandler(database.DB, registry),
		Webhook:  handlers.NewWebhookHandler(svc.Ingestor),
		Signup:   handlers.NewSignupHandler(svc.Provisioning, svc.Identity),
		Billing:  handlers.NewBillingHandler(svc.Billing),
		Features: handlers.NewFeatureHandler(svc.Features, svc.Lifecycle),
		Admin:    handlers.NewAdminHandler(svc.Billing, svc.Ledger, svc.Lifecycle, svc.Reconciler),
	}

	// Sentry error tracking
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      cfg.AppEnv,
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:    4 * 1024 * 1024,
		ErrorHandler: customErrorHandler,
	})

	// Sentry middleware
	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
	}))
	app.Use(middleware.CORS(cfg))
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		return c.Next()
	})

	// Routes
	routes.Setup(app, cfg, svc.Identity, h)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	slog.Info("shutting down server...")

	if err := app.Shutdown(); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	jobs.Stop()
	pgLogHandler.Stop()
	sentry.Flush(2 * time.Second)

	if err := database.Close(); err != nil {
		slog.Error("database close error", "error", err)
	}

	slog.Info("server stopped")
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Only expose error details for client errors (4xx), not server errors (5xx)
	if code >= 500 {
		slog.Error("unhandled server error", "method", c.Method(), "path", c.Path(), "error", err.Error())
		if hub := sentryfiber.GetHubFromContext(c); hub != nil {
			hub.CaptureException(err)
		}
		message = "Internal server error"
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
