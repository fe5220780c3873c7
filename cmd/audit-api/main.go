package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/subforge/audit-api/api/swagger"
	"github.com/subforge/audit-api/internal/handler"
	"github.com/subforge/audit-api/internal/middleware"
	"github.com/subforge/audit-api/internal/models"
	"github.com/subforge/audit-api/internal/repository"
	"github.com/subforge/audit-api/internal/service"
	"github.com/subforge/audit-api/pkg/cache"
	"github.com/subforge/audit-api/pkg/config"
	"github.com/subforge/audit-api/pkg/database"
	"github.com/subforge/audit-api/pkg/jobs"
	"github.com/subforge/audit-api/pkg/logger"
	corsmiddleware "github.com/subforge/audit-api/pkg/middleware/cors"
	reqidmiddleware "github.com/subforge/audit-api/pkg/middleware/requestid"
	"github.com/subforge/audit-api/pkg/ratelimit"
)

// @title Audit Pipeline API
// @version 1.0.0
// @description Tamper-evident audit logging service
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, stats caching disabled", "error", err)
		redisClient = nil
	}

	metricsSvc := service.NewMetricsService()
	gate := ratelimit.NewGate("audit-writes", cfg.Audit.LimiterCapacity, logr)

	auditRepo := repository.NewAuditRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	auditSvc := service.NewAuditService(auditRepo, gate, cacheRepo, metricsSvc, logr, service.AuditServiceConfig{
		Environment:    cfg.Audit.Environment,
		VerifyMaxLimit: cfg.Audit.VerifyMaxLimit,
		ExportPageSize: cfg.Audit.ExportPageSize,
		ExportMaxRows:  cfg.Audit.ExportMaxRows,
		StatsCacheTTL:  cfg.Audit.StatsCacheTTL,
	})
	authSvc := service.NewAuthService(cfg.JWT.Secret)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var drainRunner *jobs.Runner
	if cfg.Audit.DrainEnabled {
		worker := service.NewDrainWorker(auditRepo, metricsSvc, logr, service.DrainConfig{
			BatchSize:   cfg.Audit.DrainBatchSize,
			MaxAttempts: cfg.Audit.MaxAttempts,
		})
		drainRunner = jobs.NewRunner("audit-drain", worker.Tick, jobs.RunnerConfig{
			Interval: cfg.Audit.DrainInterval,
			Logger:   logr,
		})
		drainRunner.Start(ctx)
		defer drainRunner.Stop()
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, models.HealthStatus{Status: "ok", CheckedAt: time.Now().UTC()})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, models.HealthStatus{Status: "degraded", CheckedAt: time.Now().UTC()})
			return
		}
		c.JSON(http.StatusOK, models.HealthStatus{Status: "ready", CheckedAt: time.Now().UTC()})
	})

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	auditHandler := handler.NewAuditHandler(auditSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(authSvc), middleware.AuditContext())
	{
		auditGroup := api.Group("/audit", middleware.RequireRoles(models.RoleAdmin, models.RoleAuditor))
		auditGroup.GET("/logs", middleware.RequestAudit(auditSvc, db, "logs_viewed"), auditHandler.List)
		auditGroup.GET("/logs/verify", middleware.RequestAudit(auditSvc, db, "chain_verified"), auditHandler.Verify)
		auditGroup.GET("/logs/export", middleware.RequestAudit(auditSvc, db, "logs_exported"), auditHandler.Export)
		auditGroup.GET("/outbox/stats", middleware.RequestAudit(auditSvc, db, "outbox_inspected"), auditHandler.OutboxStats)
		auditGroup.POST("/outbox/replay", middleware.RequireRoles(models.RoleAdmin), auditHandler.Replay)

		api.GET("/metrics/summary", middleware.RequireRoles(models.RoleAdmin, models.RoleAuditor, models.RoleOperator), metricsHandler.Summary)
	}
	r.GET("/metrics/prometheus", metricsHandler.Prometheus)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}
}
