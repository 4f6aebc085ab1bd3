package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ip-sentry/backend/internal/service"
	"github.com/ip-sentry/backend/pkg/geoip"
)

// RegisterAccessLogRoutes mounts the admin access-log surface.
func RegisterAccessLogRoutes(r *gin.RouterGroup) {
	g := r.Group("/access-logs")
	{
		g.GET("", ListAccessLogs)
		g.GET("/suspicious", GetSuspiciousIPs)
		g.GET("/ip/:ipAddress", GetIPDetails)
		g.POST("/ip/:ipAddress/ban", BanIP)
		g.DELETE("/ip/:ipAddress/ban", UnbanIP)
	}
	r.GET("/bans", ListBans)
}

// parseDateParam accepts ISO-8601 timestamps or raw UTC milliseconds.
func parseDateParam(value string) (int64, bool) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC().UnixMilli(), true
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return ms, true
	}
	return 0, false
}

// GET /sp-admin/access-logs
func ListAccessLogs(c *gin.Context) {
	var details []ValidationDetail

	page := 1
	if v := c.Query("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			details = append(details, ValidationDetail{Field: "page", Message: "must be an integer >= 1"})
		} else {
			page = n
		}
	}

	limit := service.DefaultPageSize
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > service.MaxPageSize {
			details = append(details, ValidationDetail{Field: "limit", Message: "must be an integer in [1, 100]"})
		} else {
			limit = n
		}
	}

	filter := service.LogFilter{
		IPAddress: c.Query("ipAddress"),
		TenantID:  c.Query("tenantId"),
		UserID:    c.Query("userId"),
		Method:    c.Query("method"),
		Path:      c.Query("path"),
	}

	if v := c.Query("statusCode"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			details = append(details, ValidationDetail{Field: "statusCode", Message: "must be an integer"})
		} else {
			filter.StatusCode = &n
		}
	}
	if v := c.Query("startDate"); v != "" {
		ms, ok := parseDateParam(v)
		if !ok {
			details = append(details, ValidationDetail{Field: "startDate", Message: "must be an ISO-8601 timestamp"})
		} else {
			filter.StartDate = &ms
		}
	}
	if v := c.Query("endDate"); v != "" {
		ms, ok := parseDateParam(v)
		if !ok {
			details = append(details, ValidationDetail{Field: "endDate", Message: "must be an ISO-8601 timestamp"})
		} else {
			filter.EndDate = &ms
		}
	}

	if len(details) > 0 {
		ValidationError(c, details)
		return
	}

	records, total, err := service.NewAccessLogService().Query(c.Request.Context(), filter, page, limit)
	if err != nil {
		InternalError(c, err)
		return
	}

	DataWithMeta(c, records, NewMeta(page, limit, total))
}

// GET /sp-admin/access-logs/suspicious
func GetSuspiciousIPs(c *gin.Context) {
	var details []ValidationDetail
	opts := service.DetectOptions{}

	if v := c.Query("minRiskScore"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 100 {
			details = append(details, ValidationDetail{Field: "minRiskScore", Message: "must be an integer in [0, 100]"})
		} else {
			opts.MinRiskScore = &n
		}
	}
	if v := c.Query("startDate"); v != "" {
		ms, ok := parseDateParam(v)
		if !ok {
			details = append(details, ValidationDetail{Field: "startDate", Message: "must be an ISO-8601 timestamp"})
		} else {
			opts.StartDate = &ms
		}
	}
	if v := c.Query("endDate"); v != "" {
		ms, ok := parseDateParam(v)
		if !ok {
			details = append(details, ValidationDetail{Field: "endDate", Message: "must be an ISO-8601 timestamp"})
		} else {
			opts.EndDate = &ms
		}
	}

	if len(details) > 0 {
		ValidationError(c, details)
		return
	}

	suspicious, err := service.NewDetectionService().DetectSuspiciousIPs(c.Request.Context(), opts)
	if err != nil {
		InternalError(c, err)
		return
	}

	Data(c, http.StatusOK, suspicious)
}

// GET /sp-admin/access-logs/ip/:ipAddress
func GetIPDetails(c *gin.Context) {
	ip := c.Param("ipAddress")

	end := time.Now().UTC().UnixMilli()
	start := end - 24*time.Hour.Milliseconds()

	var details []ValidationDetail
	if v := c.Query("startDate"); v != "" {
		ms, ok := parseDateParam(v)
		if !ok {
			details = append(details, ValidationDetail{Field: "startDate", Message: "must be an ISO-8601 timestamp"})
		} else {
			start = ms
		}
	}
	if v := c.Query("endDate"); v != "" {
		ms, ok := parseDateParam(v)
		if !ok {
			details = append(details, ValidationDetail{Field: "endDate", Message: "must be an ISO-8601 timestamp"})
		} else {
			end = ms
		}
	}
	if len(details) > 0 {
		ValidationError(c, details)
		return
	}

	ctx := c.Request.Context()
	stats, err := service.NewAccessLogService().GetIPStats(ctx, ip, start, end)
	if err != nil {
		InternalError(c, err)
		return
	}

	authority := service.NewIPBanService()
	blacklisted, err := authority.IsBlacklisted(ctx, ip)
	if err != nil {
		InternalError(c, err)
		return
	}
	whitelisted, err := authority.IsWhitelisted(ctx, ip)
	if err != nil {
		InternalError(c, err)
		return
	}

	payload := gin.H{
		"ip_address":        ip,
		"total_requests":    stats.TotalRequests,
		"success_count":     stats.SuccessCount,
		"error_count":       stats.ErrorCount,
		"avg_response_time": stats.AvgResponseTime,
		"methods":           stats.Methods,
		"status_codes":      stats.StatusCodes,
		"paths":             stats.Paths,
		"last_request_at":   stats.LastRequestAt,
		"is_blacklisted":    blacklisted,
		"is_whitelisted":    whitelisted,
	}
	if geo := geoip.Lookup(ip); geo.IsValid {
		payload["geo"] = geo
	}

	Data(c, http.StatusOK, payload)
}

// BanRequest is the ban body. ExpiresAt is ISO-8601 or UTC milliseconds.
type BanRequest struct {
	Reason    string `json:"reason"`
	ExpiresAt string `json:"expiresAt"`
}

// POST /sp-admin/access-logs/ip/:ipAddress/ban
func BanIP(c *gin.Context) {
	ip := c.Param("ipAddress")

	var req BanRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		ValidationError(c, []ValidationDetail{{Field: "body", Message: "malformed JSON body"}})
		return
	}

	var expiresAt *int64
	if req.ExpiresAt != "" {
		ms, ok := parseDateParam(req.ExpiresAt)
		if !ok {
			ValidationError(c, []ValidationDetail{{Field: "expiresAt", Message: "must be an ISO-8601 timestamp"}})
			return
		}
		expiresAt = &ms
	}

	actor := c.GetString("username")
	entry, err := service.NewIPBanService().BanFromSuspicious(c.Request.Context(), ip, req.Reason, expiresAt, actor)
	if err != nil {
		InternalError(c, err)
		return
	}

	Data(c, http.StatusCreated, entry)
}

// DELETE /sp-admin/access-logs/ip/:ipAddress/ban
func UnbanIP(c *gin.Context) {
	ip := c.Param("ipAddress")

	if err := service.NewIPBanService().Unban(c.Request.Context(), ip); err != nil {
		InternalError(c, err)
		return
	}

	Data(c, http.StatusOK, gin.H{"ip_address": ip, "unbanned": true})
}

// GET /sp-admin/bans
func ListBans(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	entries, total, err := service.NewIPBanService().ListBans(c.Request.Context(), page, limit)
	if err != nil {
		InternalError(c, err)
		return
	}

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > service.MaxPageSize {
		limit = service.DefaultPageSize
	}
	DataWithMeta(c, entries, NewMeta(page, limit, total))
}
