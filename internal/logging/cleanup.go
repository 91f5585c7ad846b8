package logging

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/lib/sl"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/models"
)

const retention = 30 * 24 * time.Hour

// StartCleanup deletes system_logs older than the retention window once a day
// until ctx ends.
func StartCleanup(ctx context.Context, db *gorm.DB, log *slog.Logger) {
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				deleted, err := Purge(ctx, db, time.Now().Add(-retention))
				if err != nil {
					log.Error("log cleanup failed", sl.Err(err))
				} else if deleted > 0 {
					log.Info("log cleanup completed", slog.Int64("deleted", deleted))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Purge removes system logs recorded before cutoff.
func Purge(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&models.SystemLog{})
	return res.RowsAffected, res.Error
}
