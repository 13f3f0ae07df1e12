package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// JWT (collaborator API)
	JWTSecret       string
	JWTAccessExpiry time.Duration

	// Payment provider
	StripeWebhookSecret string

	// Billing policy
	PlansConfigPath string
	TrialDays       int
	TrialCredits    int64
	GracePeriodDays int

	// Background jobs
	SweepSchedule     string
	ReconcileSchedule string
	LogRetentionDays  int

	// Admin
	AdminEmails  string
	AdminUserIDs string
	AdminToken   string

	// Server
	Port        string
	CORSOrigins string
	AppEnv      string
	SentryDSN   string
}

func Load() *Config {
	// Local development overrides; a missing .env is not an error.
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded configuration from .env in current directory")
	}

	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "tenant_billing"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		JWTSecret:       getEnv("JWT_SECRET", ""),
		JWTAccessExpiry: parseDuration(getEnv("JWT_ACCESS_EXPIRY", "15m")),

		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		PlansConfigPath: getEnv("PLANS_CONFIG_PATH", "plans.json"),
		TrialDays:       parseInt(getEnv("TRIAL_DAYS", "14"), 14),
		TrialCredits:    int64(parseInt(getEnv("TRIAL_CREDITS", "50"), 50)),
		GracePeriodDays: parseInt(getEnv("GRACE_PERIOD_DAYS", "30"), 30),

		SweepSchedule:     getEnv("SWEEP_SCHEDULE", "@hourly"),
		ReconcileSchedule: getEnv("RECONCILE_SCHEDULE", "*/15 * * * *"),
		LogRetentionDays:  parseInt(getEnv("LOG_RETENTION_DAYS", "30"), 30),

		AdminEmails:  getEnv("ADMIN_EMAILS", ""),
		AdminUserIDs: getEnv("ADMIN_USER_IDS", ""),
		AdminToken:   getEnv("ADMIN_TOKEN", ""),

		Port:        getEnv("PORT", "8080"),
		CORSOrigins: getEnv("CORS_ORIGINS", "*"),
		AppEnv:      getEnv("APP_ENV", "development"),
		SentryDSN:   getEnv("SENTRY_DSN", ""),
	}
}

func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

// TrialPeriod is the length of a new tenant's trial.
func (c *Config) TrialPeriod() time.Duration {
	return time.Duration(c.TrialDays) * 24 * time.Hour
}

// GracePeriod is how long an unsubscribed tenant stays read-only before archival.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodDays) * 24 * time.Hour
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 15 * time.Minute
	}
	return d
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
