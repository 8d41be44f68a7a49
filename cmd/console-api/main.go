package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-adp-console/api/swagger"
	"github.com/noah-isme/sma-adp-console/internal/catalog"
	"github.com/noah-isme/sma-adp-console/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-adp-console/internal/middleware"
	"github.com/noah-isme/sma-adp-console/internal/models"
	"github.com/noah-isme/sma-adp-console/internal/repository"
	"github.com/noah-isme/sma-adp-console/internal/service"
	"github.com/noah-isme/sma-adp-console/pkg/cache"
	"github.com/noah-isme/sma-adp-console/pkg/config"
	"github.com/noah-isme/sma-adp-console/pkg/database"
	"github.com/noah-isme/sma-adp-console/pkg/jobs"
	"github.com/noah-isme/sma-adp-console/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-adp-console/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-adp-console/pkg/middleware/requestid"
)

// @title Teaching Assignment Console API
// @version 0.1.0
// @description Resolves teacher, subject and classroom candidates and edits teaching assignments.
// @BasePath /api/v1
// @schemes http

// catalogBackend is what the console needs from whichever catalog source is configured.
type catalogBackend interface {
	service.CatalogReader
	ListTeachers(ctx context.Context) ([]models.Teacher, error)
	SaveAssignments(ctx context.Context, teacherID int64, assignments []models.Assignment) error
}

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

	metricsSvc := service.NewMetricsService()
	checks := map[string]handler.Pinger{}

	var redisClient *redis.Client
	if cfg.Resolver.CacheEnabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, resolver cache disabled", zap.Error(err))
		}
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck
	var resolverCache *service.ResolverCache
	if redisClient != nil {
		resolverCache = service.NewResolverCache(cacheRepo, metricsSvc, cfg.Resolver.MemoTTL, logr)
		checks["cache"] = cacheRepo
	}

	var backend catalogBackend
	switch cfg.Catalog.Source {
	case config.CatalogSourcePostgres:
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			logr.Fatal("failed to connect to catalog database", zap.Error(err))
		}
		defer db.Close() //nolint:errcheck
		repo := repository.NewCatalogRepository(db)
		checks["catalog"] = repo
		backend = repo
	default:
		backend = catalog.NewHTTPClient(cfg.Catalog, metricsSvc, logr)
	}

	levelShapes := make(map[string][]models.QueryShape, len(cfg.Resolver.LevelShapes))
	for level, templates := range cfg.Resolver.LevelShapes {
		levelShapes[level] = models.ShapesFromTemplates(templates)
	}
	resolver := service.NewCandidateResolver(backend, service.ResolverConfig{
		LevelShapes: levelShapes,
		MemoTTL:     cfg.Resolver.MemoTTL,
		NegativeTTL: cfg.Resolver.NegativeTTL,
	}, resolverCache, metricsSvc, logr)

	formSvc := service.NewFormService(resolver, backend, nil, service.FormServiceConfig{
		SessionTTL:       cfg.Forms.SessionTTL,
		PersistedRetries: cfg.Forms.PersistedRetries,
	}, validator.New(), metricsSvc, logr)
	refreshQueue := jobs.NewQueue("form-refresh", formSvc.HandleRefresh, jobs.QueueConfig{
		Workers:    cfg.Forms.Workers,
		BufferSize: cfg.Forms.QueueBuffer,
		MaxRetries: cfg.Forms.PersistedRetries,
		RetryDelay: cfg.Forms.PersistedRetryGap,
		Logger:     logr,
	})
	formSvc.SetDispatcher(refreshQueue)
	refreshQueue.Start(ctx)
	go formSvc.RunSweeper(ctx, cfg.Forms.SweepInterval)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(corsmiddleware.New(corsmiddleware.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		ExposeHeaders:  []string{"X-Request-ID"},
	}))
	r.Use(logger.GinMiddleware(logr))
	r.Use(internalmiddleware.Metrics(metricsSvc, "/metrics"))

	metricsHandler := handler.NewMetricsHandler(metricsSvc, checks)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.GET("/system/metrics", metricsHandler.Summary)

	catalogHandler := handler.NewCatalogHandler(backend)
	api.GET("/catalog/teachers", catalogHandler.ListTeachers)

	formHandler := handler.NewFormHandler(formSvc)
	forms := api.Group("/forms")
	forms.POST("", formHandler.Create)
	forms.GET("/:id", formHandler.Get)
	forms.DELETE("/:id", formHandler.Delete)
	forms.GET("/:id/selection", formHandler.Selection)
	forms.PUT("/:id/selection/teacher", formHandler.SetTeacher)
	forms.PUT("/:id/selection/subject", formHandler.SetSubject)
	forms.PUT("/:id/selection/classroom", formHandler.SetClassroom)
	forms.POST("/:id/rows", formHandler.AddRow)
	forms.PATCH("/:id/rows/:rowId", formHandler.UpdateRow)
	forms.DELETE("/:id/rows/:rowId", formHandler.RemoveRow)
	forms.GET("/:id/assignments", formHandler.Assignments)
	forms.POST("/:id/submit", formHandler.Submit)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "catalog", cfg.Catalog.Source, "levels", resolver.Levels())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	formSvc.Close()
	refreshQueue.Stop()
}
