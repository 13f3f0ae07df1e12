package database

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/config"
	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func Connect(cfg *config.Config) error {
	var err error
	DB, err = gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	slog.Info("database connected")
	return nil
}

// Models lists every table owned by the billing core.
func Models() []interface{} {
	return []interface{}{
		&models.Organization{},
		&models.BillingProfile{},
		&models.CreditLedgerEntry{},
		&models.CreditBalance{},
		&models.ProcessedEvent{},
		&models.EventFailure{},
		&models.AccountLifecycleLog{},
		&models.User{},
		&models.UserRole{},
		&models.OrganizationMember{},
		&models.OrganizationFeature{},
		&models.SystemLog{},
	}
}

// Migrate runs AutoMigrate for all billing models on db.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

// MigrateShared migrates the package-level connection.
func MigrateShared() error {
	return Migrate(DB)
}

func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
