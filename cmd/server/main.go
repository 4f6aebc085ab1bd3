package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ip-sentry/backend/internal/cache"
	"github.com/ip-sentry/backend/internal/config"
	"github.com/ip-sentry/backend/internal/database"
	"github.com/ip-sentry/backend/internal/handler"
	"github.com/ip-sentry/backend/internal/ingest"
	"github.com/ip-sentry/backend/internal/logger"
	"github.com/ip-sentry/backend/internal/middleware"
	"github.com/ip-sentry/backend/internal/service"
	"github.com/ip-sentry/backend/internal/tasks"
	"github.com/ip-sentry/backend/pkg/geoip"
	"github.com/ip-sentry/backend/pkg/jwt"
)

// Build metadata, injected at link time.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Server.Mode); err != nil {
		fmt.Printf("failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("ip-sentry starting",
		zap.String("version", Version),
		zap.String("git_commit", GitCommit),
	)

	if err := database.Init(cfg); err != nil {
		logger.Fatal("failed to init database", zap.Error(err))
	}
	defer database.Close()

	if err := cache.Init(cfg); err != nil {
		logger.Fatal("failed to init redis", zap.Error(err))
	}
	defer cache.Close()

	jwt.Init(cfg)

	if err := geoip.Init(cfg); err != nil {
		logger.Warn("geoip unavailable", zap.Error(err))
	}
	defer geoip.Close()

	pipeline := ingest.New(cfg.Ingest, service.NewAccessLogService())
	pipeline.Start()
	defer pipeline.Stop()

	tasks.InitTasks(cfg)
	taskManager := tasks.GetManager()
	taskManager.Start()
	defer taskManager.Stop()

	gin.SetMode(cfg.Server.Mode)
	router := setupRouter(pipeline)

	srv := &http.Server{
		Addr:         cfg.ServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("server listening",
			zap.String("addr", cfg.ServerAddr()),
			zap.String("mode", cfg.Server.Mode),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced server shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func setupRouter(pipeline *ingest.Pipeline) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RecoveryMiddleware())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.CaptureMiddleware(pipeline))

	router.GET("/health", handler.HealthCheck)
	router.GET("/api/health", handler.HealthCheck)

	auth := router.Group("/api/auth")
	{
		auth.POST("/login", handler.Login)
		auth.POST("/logout", handler.Logout)
	}

	admin := router.Group("/sp-admin")
	admin.Use(middleware.AuthMiddleware())
	handler.RegisterAccessLogRoutes(admin)

	return router
}
