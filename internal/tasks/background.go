package tasks

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ip-sentry/backend/internal/config"
	"github.com/ip-sentry/backend/internal/database"
	"github.com/ip-sentry/backend/internal/logger"
	"github.com/ip-sentry/backend/internal/service"
)

// InitTasks registers the maintenance jobs.
func InitTasks(cfg *config.Config) {
	m := GetManager()

	m.Register("schema-ensure", 24*time.Hour, SchemaEnsureTask)
	m.Register("ban-expiry-purge", 10*time.Minute, BanExpiryPurgeTask)

	if cfg.Ingest.RetentionDays > 0 {
		m.Register("access-log-retention", time.Hour, RetentionCleanupTask)
	}
}

// SchemaEnsureTask re-runs the migration so tables and indexes recreated or
// dropped out-of-band are restored. Reads degrade to empty results while the
// catalog is missing; this closes that gap.
func SchemaEnsureTask(ctx context.Context) error {
	conn := database.Get()
	if conn == nil {
		return nil
	}
	return database.Migrate(conn.WithContext(ctx))
}

// BanExpiryPurgeTask deletes lapsed ban rows. Expired bans no longer match
// blacklist checks either way; this only keeps the table small.
func BanExpiryPurgeTask(ctx context.Context) error {
	purged, err := service.NewIPBanService().PurgeExpired(ctx)
	if err != nil {
		return err
	}
	if purged > 0 {
		logger.Info("expired bans purged", zap.Int64("purged", purged))
	}
	return nil
}

// RetentionCleanupTask enforces the access-log retention policy. It is the
// only writer allowed to delete access records.
func RetentionCleanupTask(ctx context.Context) error {
	cfg := config.Get()
	if cfg.Ingest.RetentionDays <= 0 {
		return nil
	}

	cutoff := time.Now().UTC().Add(-time.Duration(cfg.Ingest.RetentionDays) * 24 * time.Hour).UnixMilli()
	deleted, err := service.NewAccessLogService().DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		logger.Info("expired access logs deleted",
			zap.Int64("deleted", deleted),
			zap.Int("retention_days", cfg.Ingest.RetentionDays),
		)
	}
	return nil
}
