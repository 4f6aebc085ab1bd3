package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ip-sentry/backend/internal/ingest"
)

// CaptureMiddleware records every inbound request through the ingestion
// pipeline. It runs after the handler so status and duration are known, and
// it can never fail the request: the pipeline swallows all errors.
func CaptureMiddleware(pipeline *ingest.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == "/health" || path == "/api/health" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		responseTime := time.Since(start).Milliseconds()

		var errMsg string
		if len(c.Errors) > 0 {
			errMsg = c.Errors.String()
		}

		pipeline.Log(ingest.Entry{
			IPAddress:    c.ClientIP(),
			Method:       c.Request.Method,
			URL:          c.Request.URL.String(),
			Path:         path,
			StatusCode:   &status,
			ResponseTime: &responseTime,
			UserAgent:    c.Request.UserAgent(),
			Referer:      c.Request.Referer(),
			TenantID:     headerOrKey(c, "X-Tenant-ID", "tenant_id"),
			UserID:       headerOrKey(c, "X-User-ID", "user_id"),
			Error:        errMsg,
		})
	}
}

func headerOrKey(c *gin.Context, header, key string) string {
	if v := c.GetString(key); v != "" {
		return v
	}
	return c.GetHeader(header)
}
