package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ip-sentry/backend/internal/cache"
	"github.com/ip-sentry/backend/internal/database"
	"github.com/ip-sentry/backend/internal/logger"
	"github.com/ip-sentry/backend/internal/models"
)

// Pagination bounds for log queries.
const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// LogFilter is the AND-combined filter of the log query surface.
// Path matches as substring; everything else is exact.
type LogFilter struct {
	IPAddress  string
	TenantID   string
	UserID     string
	Method     string
	Path       string
	StatusCode *int
	StartDate  *int64 // UTC milliseconds, inclusive
	EndDate    *int64 // UTC milliseconds, inclusive
}

// IPRecord is the slim per-IP projection the detection engine reads.
type IPRecord struct {
	StatusCode *int   `gorm:"column:status_code"`
	Method     string `gorm:"column:method"`
	Path       string `gorm:"column:path"`
}

// AccessLogService is the durable append-only store of request records.
type AccessLogService struct {
	db *gorm.DB
}

// NewAccessLogService creates the store service on the global connection.
func NewAccessLogService() *AccessLogService {
	return &AccessLogService{db: database.Get()}
}

// Insert appends one record, assigning ID and CreatedAt. Rows are never
// updated afterwards.
func (s *AccessLogService) Insert(ctx context.Context, record *models.AccessLog) error {
	if s.db == nil {
		return fmt.Errorf("store unavailable")
	}
	if record.CreatedAt == 0 {
		record.CreatedAt = time.Now().UTC().UnixMilli()
	}
	return s.db.WithContext(ctx).Create(record).Error
}

// Query returns records matching the filter, newest first (created_at DESC,
// id DESC for a stable tie-break), plus the total match count for paging.
// A missing table or column yields empty results, not an error.
func (s *AccessLogService) Query(ctx context.Context, filter LogFilter, page, limit int) ([]models.AccessLog, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	q := s.applyFilter(s.db.WithContext(ctx).Model(&models.AccessLog{}), filter)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		if database.IsCatalogMissing(err) {
			logger.Warn("access log table missing, returning empty result", zap.Error(err))
			return []models.AccessLog{}, 0, nil
		}
		return nil, 0, err
	}

	var records []models.AccessLog
	err := q.Order("created_at DESC, id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&records).Error
	if err != nil {
		if database.IsCatalogMissing(err) {
			logger.Warn("access log table missing, returning empty result", zap.Error(err))
			return []models.AccessLog{}, 0, nil
		}
		return nil, 0, err
	}

	return records, total, nil
}

func (s *AccessLogService) applyFilter(q *gorm.DB, filter LogFilter) *gorm.DB {
	if filter.IPAddress != "" {
		q = q.Where("ip_address = ?", filter.IPAddress)
	}
	if filter.TenantID != "" {
		q = q.Where("tenant_id = ?", filter.TenantID)
	}
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.Method != "" {
		q = q.Where("method = ?", filter.Method)
	}
	if filter.Path != "" {
		q = q.Where("path LIKE ?", "%"+filter.Path+"%")
	}
	if filter.StatusCode != nil {
		q = q.Where("status_code = ?", *filter.StatusCode)
	}
	if filter.StartDate != nil {
		q = q.Where("created_at >= ?", *filter.StartDate)
	}
	if filter.EndDate != nil {
		q = q.Where("created_at <= ?", *filter.EndDate)
	}
	return q
}

// AggregateByIP returns, for each distinct non-empty IP with records inside
// the closed window, its request count and newest created_at.
func (s *AccessLogService) AggregateByIP(ctx context.Context, start, end int64) ([]models.IPAggregate, error) {
	var rows []models.IPAggregate
	err := s.db.WithContext(ctx).Model(&models.AccessLog{}).
		Select("ip_address, COUNT(*) AS count, MAX(created_at) AS max_created_at").
		Where("created_at >= ? AND created_at <= ?", start, end).
		Where("ip_address IS NOT NULL AND ip_address <> ''").
		Group("ip_address").
		Scan(&rows).Error
	if err != nil {
		if database.IsCatalogMissing(err) {
			logger.Warn("access log table missing, skipping IP aggregation", zap.Error(err))
			return []models.IPAggregate{}, nil
		}
		return nil, err
	}
	return rows, nil
}

// ListIPRecords returns the slim detail rows for one IP inside the window.
// Only status code, method and path are selected.
func (s *AccessLogService) ListIPRecords(ctx context.Context, ip string, start, end int64) ([]IPRecord, error) {
	var rows []IPRecord
	err := s.db.WithContext(ctx).Model(&models.AccessLog{}).
		Select("status_code, method, path").
		Where("ip_address = ? AND created_at >= ? AND created_at <= ?", ip, start, end).
		Scan(&rows).Error
	if err != nil {
		if database.IsCatalogMissing(err) {
			logger.Warn("access log table missing, skipping IP detail", zap.Error(err))
			return []IPRecord{}, nil
		}
		return nil, err
	}
	return rows, nil
}

// GetIPStats aggregates one IP's traffic inside the closed window: totals,
// rounded average response time, method and status histograms, the top 10
// paths by count (ties broken by first occurrence) and the newest request.
func (s *AccessLogService) GetIPStats(ctx context.Context, ip string, start, end int64) (*models.IPStats, error) {
	cacheKey := fmt.Sprintf("ip:stats:%s:%d:%d", ip, start, end)
	var cached models.IPStats
	if err := cache.Get(cacheKey, &cached); err == nil {
		return &cached, nil
	}

	var rows []models.AccessLog
	err := s.db.WithContext(ctx).Model(&models.AccessLog{}).
		Select("status_code, method, path, response_time, created_at").
		Where("ip_address = ? AND created_at >= ? AND created_at <= ?", ip, start, end).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		if database.IsCatalogMissing(err) {
			logger.Warn("access log table missing, returning empty IP stats", zap.Error(err))
			rows = nil
		} else {
			return nil, err
		}
	}

	stats := &models.IPStats{
		Methods:     map[string]int64{},
		StatusCodes: map[string]int64{},
		Paths:       []models.PathCount{},
	}

	type pathSeen struct {
		count int64
		order int
	}
	paths := map[string]*pathSeen{}

	var rtSum int64
	var rtSamples int64

	for i, row := range rows {
		stats.TotalRequests++
		if row.StatusCode != nil {
			code := *row.StatusCode
			if code >= 200 && code < 400 {
				stats.SuccessCount++
			}
			if code >= 400 {
				stats.ErrorCount++
			}
			stats.StatusCodes[fmt.Sprintf("%d", code)]++
		}
		if row.Method != "" {
			stats.Methods[row.Method]++
		}
		if row.ResponseTime != nil {
			rtSum += *row.ResponseTime
			rtSamples++
		}
		if row.Path != "" {
			if p, ok := paths[row.Path]; ok {
				p.count++
			} else {
				paths[row.Path] = &pathSeen{count: 1, order: i}
			}
		}
		if row.CreatedAt > stats.LastRequestAt {
			stats.LastRequestAt = row.CreatedAt
		}
	}

	if rtSamples > 0 {
		stats.AvgResponseTime = int64(math.Round(float64(rtSum) / float64(rtSamples)))
	}

	type rankedPath struct {
		path  string
		count int64
		order int
	}
	ranked := make([]rankedPath, 0, len(paths))
	for p, seen := range paths {
		ranked = append(ranked, rankedPath{path: p, count: seen.count, order: seen.order})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].order < ranked[j].order
	})
	if len(ranked) > 10 {
		ranked = ranked[:10]
	}
	for _, r := range ranked {
		stats.Paths = append(stats.Paths, models.PathCount{Path: r.path, Count: r.count})
	}

	_ = cache.Set(cacheKey, stats, time.Minute)
	return stats, nil
}

// DeleteOlderThan removes records created before the cutoff. Used by the
// retention task only; nothing else deletes access logs.
func (s *AccessLogService) DeleteOlderThan(ctx context.Context, cutoff int64) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.AccessLog{})
	return result.RowsAffected, result.Error
}
