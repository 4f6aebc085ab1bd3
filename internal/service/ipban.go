package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ip-sentry/backend/internal/cache"
	"github.com/ip-sentry/backend/internal/database"
	"github.com/ip-sentry/backend/internal/models"
)

const banCacheTTL = 30 * time.Second

// IPBanService owns the blacklist and whitelist. It is the single source of
// truth for "is this IP banned"; detection output only feeds it through
// explicit admin decisions.
type IPBanService struct {
	db *gorm.DB
}

// NewIPBanService creates the authority on the global connection.
func NewIPBanService() *IPBanService {
	return &IPBanService{db: database.Get()}
}

// IsBlacklisted reports whether an active (non-expired) ban exists for ip.
func (s *IPBanService) IsBlacklisted(ctx context.Context, ip string) (bool, error) {
	cacheKey := "ip:ban:" + ip
	var cached bool
	if err := cache.Get(cacheKey, &cached); err == nil {
		return cached, nil
	}

	nowMs := time.Now().UTC().UnixMilli()
	var count int64
	err := s.db.WithContext(ctx).Model(&models.IPBan{}).
		Where("ip_address = ?", ip).
		Where("expires_at IS NULL OR expires_at > ?", nowMs).
		Count(&count).Error
	if err != nil {
		return false, err
	}

	banned := count > 0
	_ = cache.Set(cacheKey, banned, banCacheTTL)
	return banned, nil
}

// IsWhitelisted reports whether an allow-list entry exists for ip.
func (s *IPBanService) IsWhitelisted(ctx context.Context, ip string) (bool, error) {
	cacheKey := "ip:allow:" + ip
	var cached bool
	if err := cache.Get(cacheKey, &cached); err == nil {
		return cached, nil
	}

	var count int64
	err := s.db.WithContext(ctx).Model(&models.IPAllow{}).
		Where("ip_address = ?", ip).
		Count(&count).Error
	if err != nil {
		return false, err
	}

	allowed := count > 0
	_ = cache.Set(cacheKey, allowed, banCacheTTL)
	return allowed, nil
}

// IsAllowed combines both lists. The whitelist always wins.
func (s *IPBanService) IsAllowed(ctx context.Context, ip string) (bool, error) {
	whitelisted, err := s.IsWhitelisted(ctx, ip)
	if err != nil {
		return false, err
	}
	if whitelisted {
		return true, nil
	}
	banned, err := s.IsBlacklisted(ctx, ip)
	if err != nil {
		return false, err
	}
	return !banned, nil
}

// Ban creates or refreshes the ban for ip. The operation is idempotent per
// IP: a second call updates reason, banned_by and expires_at in place, so at
// most one active entry ever exists.
func (s *IPBanService) Ban(ctx context.Context, ip, reason, bannedBy string, expiresAt *int64) (*models.IPBan, error) {
	entry := &models.IPBan{
		IPAddress: ip,
		Reason:    reason,
		BannedBy:  bannedBy,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC().UnixMilli(),
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ip_address"}},
		DoUpdates: clause.AssignmentColumns([]string{"reason", "banned_by", "expires_at"}),
	}).Create(entry).Error
	if err != nil {
		return nil, err
	}

	_ = cache.Delete("ip:ban:" + ip)

	// Re-read so the caller sees the stored row (id, original created_at).
	var stored models.IPBan
	if err := s.db.WithContext(ctx).Where("ip_address = ?", ip).First(&stored).Error; err != nil {
		return entry, nil
	}
	return &stored, nil
}

// Unban removes the ban for ip. Removing a non-existent ban is not an error.
func (s *IPBanService) Unban(ctx context.Context, ip string) error {
	err := s.db.WithContext(ctx).
		Where("ip_address = ?", ip).
		Delete(&models.IPBan{}).Error
	if err != nil {
		return err
	}
	_ = cache.Delete("ip:ban:" + ip)
	return nil
}

// Allow adds ip to the whitelist, updating reason and actor when it is
// already present.
func (s *IPBanService) Allow(ctx context.Context, ip, reason, addedBy string) (*models.IPAllow, error) {
	entry := &models.IPAllow{
		IPAddress: ip,
		Reason:    reason,
		AddedBy:   addedBy,
		CreatedAt: time.Now().UTC().UnixMilli(),
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ip_address"}},
		DoUpdates: clause.AssignmentColumns([]string{"reason", "added_by"}),
	}).Create(entry).Error
	if err != nil {
		return nil, err
	}

	_ = cache.Delete("ip:allow:" + ip)
	return entry, nil
}

// Disallow removes ip from the whitelist.
func (s *IPBanService) Disallow(ctx context.Context, ip string) error {
	err := s.db.WithContext(ctx).
		Where("ip_address = ?", ip).
		Delete(&models.IPAllow{}).Error
	if err != nil {
		return err
	}
	_ = cache.Delete("ip:allow:" + ip)
	return nil
}

// GetBan returns the active ban for ip, or nil when none exists.
func (s *IPBanService) GetBan(ctx context.Context, ip string) (*models.IPBan, error) {
	nowMs := time.Now().UTC().UnixMilli()
	var entry models.IPBan
	err := s.db.WithContext(ctx).
		Where("ip_address = ?", ip).
		Where("expires_at IS NULL OR expires_at > ?", nowMs).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// ListBans returns ban entries newest first with the total count.
func (s *IPBanService) ListBans(ctx context.Context, page, limit int) ([]models.IPBan, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > MaxPageSize {
		limit = DefaultPageSize
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.IPBan{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []models.IPBan
	err := s.db.WithContext(ctx).Model(&models.IPBan{}).
		Order("created_at DESC, id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// BanFromSuspicious bans an IP surfaced by the detection engine. When no
// reason is given, the engine is consulted and one is synthesised from the
// IP's suspicious factors; an IP absent from the suspicious list gets a
// generic reason.
func (s *IPBanService) BanFromSuspicious(ctx context.Context, ip, reason string, expiresAt *int64, actorID string) (*models.IPBan, error) {
	if reason == "" {
		reason = "Banned from suspicious IPs list"

		minRisk := 30
		suspicious, err := NewDetectionService().DetectSuspiciousIPs(ctx, DetectOptions{MinRiskScore: &minRisk})
		if err != nil {
			return nil, err
		}
		for _, sip := range suspicious {
			if sip.IPAddress == ip && len(sip.SuspiciousFactors) > 0 {
				reason = "Suspicious activity detected: " + strings.Join(sip.SuspiciousFactors, ", ")
				break
			}
		}
	}

	return s.Ban(ctx, ip, reason, actorID, expiresAt)
}

// PurgeExpired deletes bans whose expiry has passed. Expired bans are
// already inert; this keeps the table small.
func (s *IPBanService) PurgeExpired(ctx context.Context) (int64, error) {
	nowMs := time.Now().UTC().UnixMilli()
	result := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", nowMs).
		Delete(&models.IPBan{})
	return result.RowsAffected, result.Error
}
