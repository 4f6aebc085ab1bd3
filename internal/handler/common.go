package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ip-sentry/backend/internal/cache"
	"github.com/ip-sentry/backend/internal/config"
	"github.com/ip-sentry/backend/internal/database"
	"github.com/ip-sentry/backend/internal/logger"
	"github.com/ip-sentry/backend/pkg/jwt"
)

// Meta is the pagination block of list responses.
type Meta struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

// ValidationDetail is one entry of a 400 response's details list.
type ValidationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Data wraps a successful payload.
func Data(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"data": data})
}

// DataWithMeta wraps a successful list payload with pagination meta.
func DataWithMeta(c *gin.Context, data interface{}, meta Meta) {
	c.JSON(http.StatusOK, gin.H{"data": data, "meta": meta})
}

// ValidationError responds 400 with the structured details list.
func ValidationError(c *gin.Context, details []ValidationDetail) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "validation failed",
		"details": details,
	})
}

// InternalError logs the storage failure and responds 500 with a sanitised
// message.
func InternalError(c *gin.Context, err error) {
	logger.Error("request failed",
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

// NewMeta computes the pagination meta for a list response.
func NewMeta(page, limit int, total int64) Meta {
	totalPages := 0
	if limit > 0 {
		totalPages = int((total + int64(limit) - 1) / int64(limit))
	}
	return Meta{Page: page, Limit: limit, Total: total, TotalPages: totalPages}
}

// HealthCheck reports store and cache health.
func HealthCheck(c *gin.Context) {
	if err := database.HealthCheck(); err != nil {
		logger.Error("database health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database unavailable"})
		return
	}
	if err := cache.HealthCheck(); err != nil {
		logger.Error("redis health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cache unavailable"})
		return
	}
	Data(c, http.StatusOK, gin.H{"status": "healthy"})
}

// LoginRequest is the administrator login body.
type LoginRequest struct {
	Password string `json:"password" binding:"required"`
}

// Login authenticates the administrator and issues a bearer token.
func Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ValidationError(c, []ValidationDetail{{Field: "password", Message: "password is required"}})
		return
	}

	cfg := config.Get()
	if cfg.Auth.AdminPassword == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "admin login disabled"})
		return
	}

	// Config may hold a bcrypt hash or, for dev setups, the plaintext.
	if err := bcrypt.CompareHashAndPassword([]byte(cfg.Auth.AdminPassword), []byte(req.Password)); err != nil {
		if req.Password != cfg.Auth.AdminPassword {
			logger.Warn("admin login rejected", zap.String("ip", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid password"})
			return
		}
	}

	token, err := jwt.GenerateToken("admin", 100, cfg.Auth.JWTExpireHours)
	if err != nil {
		InternalError(c, err)
		return
	}

	logger.Info("admin login", zap.String("ip", c.ClientIP()))
	Data(c, http.StatusOK, gin.H{
		"token":      token,
		"expires_at": time.Now().Add(time.Duration(cfg.Auth.JWTExpireHours) * time.Hour).UTC().Format(time.RFC3339),
	})
}

// Logout is stateless; clients drop the token.
func Logout(c *gin.Context) {
	Data(c, http.StatusOK, gin.H{"message": "logged out"})
}
