package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/ahmetcoskunkizilkaya/tenant-billing/internal/models"
	"gorm.io/gorm"
)

// PurgeExpired deletes system logs and resolved event failures older than
// retentionDays. Unresolved failures are kept regardless of age.
func PurgeExpired(ctx context.Context, db *gorm.DB, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	logs := db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&models.SystemLog{})
	if logs.Error != nil {
		return 0, logs.Error
	}
	failures := db.WithContext(ctx).
		Where("resolved_at IS NOT NULL AND resolved_at < ?", cutoff).
		Delete(&models.EventFailure{})
	if failures.Error != nil {
		return logs.RowsAffected, failures.Error
	}

	deleted := logs.RowsAffected + failures.RowsAffected
	if deleted > 0 {
		slog.Info("log cleanup completed",
			"system_logs", logs.RowsAffected, "event_failures", failures.RowsAffected)
	}
	return deleted, nil
}
