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
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/device-inventory-api/api/swagger"
	"github.com/noah-isme/device-inventory-api/internal/handler"
	"github.com/noah-isme/device-inventory-api/internal/middleware"
	"github.com/noah-isme/device-inventory-api/internal/models"
	"github.com/noah-isme/device-inventory-api/internal/queue"
	"github.com/noah-isme/device-inventory-api/internal/repository"
	"github.com/noah-isme/device-inventory-api/internal/service"
	"github.com/noah-isme/device-inventory-api/internal/worker"
	"github.com/noah-isme/device-inventory-api/internal/ws"
	"github.com/noah-isme/device-inventory-api/pkg/cache"
	"github.com/noah-isme/device-inventory-api/pkg/config"
	"github.com/noah-isme/device-inventory-api/pkg/database"
	"github.com/noah-isme/device-inventory-api/pkg/jobs"
	"github.com/noah-isme/device-inventory-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/device-inventory-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/device-inventory-api/pkg/middleware/requestid"
)

// @title Device Inventory API
// @version 1.0.0
// @description Device inventory backend with session rotation, background aggregation and live notifications
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, unread counts served from postgres", "error", err)
		redisClient = nil
	}

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewTokenRepository(db)
	deviceRepo := repository.NewDeviceRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	statsRepo := repository.NewStatsRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	validate := validator.New()

	// Live hub and dispatch queue.
	hub := ws.NewHub(logr)
	go hub.Run(ctx)

	liveQueue := jobs.NewQueue("live-push", func(ctx context.Context, job jobs.Job) error {
		payload, _ := job.Payload.(map[string]interface{})
		hub.Broadcast(job.Type, payload)
		return nil
	}, jobs.QueueConfig{
		Workers:    cfg.LivePush.Workers,
		BufferSize: cfg.LivePush.BufferSize,
		Logger:     logr,
	})
	liveQueue.Start(ctx)
	defer liveQueue.Stop()

	// Services.
	authSvc := service.NewAuthService(userRepo, tokenRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	metricQueue := queue.NewMetricQueue()
	metricsSvc := service.NewMetricsService(metricQueue.Len, hub.ClientCount)

	notificationSvc := service.NewNotificationService(notificationRepo, cacheRepo, liveQueue, logr, cfg.Cache.UnreadCountTTL)
	notificationSvc.SetCacheObserver(metricsSvc.RecordCacheOperation)

	deviceSvc := service.NewDeviceService(deviceRepo, notificationSvc, metricQueue, validate, logr)

	// Aggregate worker.
	aggWorker := worker.NewAggregateWorker(metricQueue, statsRepo, notificationSvc, logr, cfg.Worker.PollInterval, cfg.Worker.ErrorBackoff)
	aggWorker.SetObserver(metricsSvc.ObserveWorkerIteration)
	go aggWorker.Run(ctx)

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc, cfg.Env == config.EnvProduction)
	deviceHandler := handler.NewDeviceHandler(deviceSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)
	wsHandler := handler.NewWSHandler(hub, logr)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", authHandler.Logout)
	auth.GET("/profile", middleware.JWT(authSvc), authHandler.Profile)

	devices := api.Group("/devices", middleware.JWT(authSvc))
	devices.GET("", deviceHandler.List)
	devices.GET("/:id", deviceHandler.Get)
	devices.POST("", deviceHandler.Create)
	devices.PUT("/:id", deviceHandler.Update)
	devices.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), deviceHandler.Delete)
	devices.PUT("/restore/:id", deviceHandler.Restore)
	devices.POST("/calculate-average", deviceHandler.CalculateAverage)
	if cfg.Export.Enabled {
		devices.GET("/export", middleware.RequireRoles(models.RoleAdmin), deviceHandler.Export)
	}

	notifications := api.Group("/notifications", middleware.JWT(authSvc))
	notifications.GET("", notificationHandler.Latest)
	notifications.GET("/paged", notificationHandler.List)
	notifications.GET("/unread-count", notificationHandler.UnreadCount)
	notifications.PUT("/markread/:id", notificationHandler.MarkRead)
	notifications.PUT("/markallread", notificationHandler.MarkAllRead)

	r.GET("/ws", middleware.JWT(authSvc), wsHandler.Serve)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
