package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/uni-onboarding-api/api/swagger"
	"github.com/noah-isme/uni-onboarding-api/internal/clients"
	"github.com/noah-isme/uni-onboarding-api/internal/handler"
	"github.com/noah-isme/uni-onboarding-api/internal/middleware"
	"github.com/noah-isme/uni-onboarding-api/internal/models"
	"github.com/noah-isme/uni-onboarding-api/internal/repository"
	"github.com/noah-isme/uni-onboarding-api/internal/service"
	"github.com/noah-isme/uni-onboarding-api/pkg/cache"
	"github.com/noah-isme/uni-onboarding-api/pkg/config"
	"github.com/noah-isme/uni-onboarding-api/pkg/database"
	"github.com/noah-isme/uni-onboarding-api/pkg/jobs"
	"github.com/noah-isme/uni-onboarding-api/pkg/lock"
	"github.com/noah-isme/uni-onboarding-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/uni-onboarding-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/uni-onboarding-api/pkg/middleware/requestid"
)

// @title Uni Onboarding API
// @version 0.1.0
// @description Student onboarding and account provisioning engine
// @BasePath /
// @schemes http

const (
	jobKindTick   = "scheduler_tick"
	jobKindIngest = "ingest_run"

	schedulerLock = "scheduler-tick"
)

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
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Fatal("failed to connect redis", zap.Error(err))
	}
	defer redisClient.Close()

	locker := lock.New(redisClient)
	runtime := config.NewRuntime(cfg)

	recordRepo := repository.NewRecordRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	watermarkRepo := repository.NewWatermarkRepository(db)
	batchRepo := repository.NewBatchRepository(db)
	userRepo := repository.NewUserRepository(db)
	configRepo := repository.NewConfigurationRepository(db)

	rosterClient := clients.NewRosterClient(cfg.Roster)
	identityClient := clients.NewIdentityClient(cfg.Identity)
	learningClient := clients.NewLearningClient(cfg.Learning)
	notifierClient := clients.NewNotifierClient(cfg.Notifier)

	metricsService := service.NewMetricsService()
	ingestService := service.NewIngestService(rosterClient, recordRepo, watermarkRepo, cfg.Ingestion, runtime, metricsService, logr)
	provisionService := service.NewProvisionService(recordRepo, identityClient, learningClient, notifierClient, runtime, logr)
	workflowService := service.NewWorkflowService(recordRepo, provisionService, logr)
	taskService := service.NewTaskService(taskRepo, recordRepo, nil, logr)
	taskRunner := service.NewTaskRunner(recordRepo, provisionService, workflowService, ingestService, taskService, runtime, logr)
	batchService := service.NewBatchService(taskRepo, batchRepo, taskRunner, runtime, metricsService, logr)
	configService := service.NewConfigService(configRepo, config.SnapshotFrom(cfg), runtime, logr)
	recordService := service.NewRecordService(recordRepo, logr)
	exportService := service.NewExportService(batchRepo, logr)
	authService := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            "uni-onboarding-api",
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := configService.Reload(ctx); err != nil {
		logr.Warn("could not load configuration overrides, using environment defaults", zap.Error(err))
	}

	queue := jobs.NewQueue("scheduler", func(ctx context.Context, job jobs.Job) error {
		switch job.Kind {
		case jobKindTick:
			return runTick(ctx, locker, taskService, ingestService, batchService, cfg.Provisioning.LockTTL, logr)
		case jobKindIngest:
			category, ok := job.Payload.(models.RecordCategory)
			if !ok {
				return fmt.Errorf("ingest job carries no category")
			}
			return runManualIngest(ctx, locker, taskService, batchService, category, cfg.Provisioning.LockTTL, logr)
		default:
			return fmt.Errorf("unknown job kind %q", job.Kind)
		}
	}, jobs.QueueConfig{Workers: 2, Logger: logr})
	queue.Start(ctx)
	defer queue.Stop()

	go runTicker(ctx, queue, cfg.Provisioning.TickInterval, logr)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsService.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authHandler := handler.NewAuthHandler(authService)
	recordHandler := handler.NewRecordHandler(recordService)
	taskHandler := handler.NewTaskHandler(taskService)
	ingestionHandler := handler.NewIngestionHandler(ingestService, func(category models.RecordCategory) error {
		return queue.Enqueue(jobs.Job{Kind: jobKindIngest, Payload: category})
	})
	schedulerHandler := handler.NewSchedulerHandler(batchService, exportService)
	configHandler := handler.NewConfigHandler(configService)

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/refresh", authHandler.Refresh)

	protected := api.Group("", middleware.JWT(authService))
	protected.GET("/records", recordHandler.List)
	protected.GET("/records/:id", recordHandler.Get)
	protected.GET("/tasks", taskHandler.List)
	protected.GET("/tasks/:id", taskHandler.Get)
	protected.GET("/ingestion/watermarks", ingestionHandler.Watermarks)

	admin := protected.Group("", middleware.RequireRoles(models.RoleAdmin, models.RoleOperator))
	admin.PUT("/records/:id/stage", recordHandler.AdvanceStage)
	admin.POST("/tasks", taskHandler.Enqueue)
	admin.POST("/tasks/bulk", taskHandler.BulkEnqueue)
	admin.POST("/ingestion/:category/run", ingestionHandler.Run)
	admin.POST("/ingestion/:category/force-reload", ingestionHandler.ForceFullReload)
	admin.POST("/scheduler/tick", schedulerHandler.Tick)
	admin.GET("/scheduler/batches/export", schedulerHandler.Export)

	settings := protected.Group("", middleware.RequireRoles(models.RoleAdmin))
	settings.GET("/config", configHandler.Current)
	settings.PUT("/config", configHandler.Set)
	settings.POST("/config/reload", configHandler.Reload)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("server shutdown failed", zap.Error(err))
	}
}

// runTicker enqueues a scheduler job on every tick. The job runs on a queue
// worker so a slow external service never blocks the ticker.
func runTicker(ctx context.Context, queue *jobs.Queue, interval time.Duration, logr *zap.Logger) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := queue.Enqueue(jobs.Job{Kind: jobKindTick}); err != nil {
				logr.Warn("scheduler tick not enqueued", zap.Error(err))
			}
		}
	}
}

// runTick enqueues ingestion tasks for every category whose window is open,
// then drains one task batch. The distributed lock keeps concurrent instances
// from processing the same tick.
func runTick(ctx context.Context, locker *lock.Locker, tasks *service.TaskService, ingest *service.IngestService, batches *service.BatchService, ttl time.Duration, logr *zap.Logger) error {
	lease, err := locker.Acquire(ctx, schedulerLock, ttl)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			logr.Debug("scheduler lock held elsewhere, skipping tick")
			return nil
		}
		return err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logr.Warn("scheduler lock release failed", zap.Error(err))
		}
	}()

	now := time.Now().UTC()
	for _, category := range ingest.EnabledCategories(now) {
		req := service.EnqueueTaskRequest{
			Type:    models.TaskBulkIngest,
			Payload: models.TaskPayload{BulkIngest: &models.BulkIngestPayload{Category: category}},
		}
		if _, err := tasks.Enqueue(ctx, req, models.OriginAutomatic); err != nil {
			logr.Warn("ingestion task not enqueued",
				zap.String("category", string(category)), zap.Error(err))
		}
	}

	_, err = batches.ProcessPendingBatch(ctx, now)
	return err
}

// runManualIngest turns an operator-triggered run into a durable bulk-ingest
// task, then drains one batch so the run starts without waiting for the next
// tick. If another instance holds the lock its tick will pick the task up.
func runManualIngest(ctx context.Context, locker *lock.Locker, tasks *service.TaskService, batches *service.BatchService, category models.RecordCategory, ttl time.Duration, logr *zap.Logger) error {
	req := service.EnqueueTaskRequest{
		Type:    models.TaskBulkIngest,
		Payload: models.TaskPayload{BulkIngest: &models.BulkIngestPayload{Category: category}},
	}
	if _, err := tasks.Enqueue(ctx, req, models.OriginManual); err != nil {
		return err
	}

	lease, err := locker.Acquire(ctx, schedulerLock, ttl)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil
		}
		return err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logr.Warn("scheduler lock release failed", zap.Error(err))
		}
	}()

	_, err = batches.ProcessPendingBatch(ctx, time.Now().UTC())
	return err
}
