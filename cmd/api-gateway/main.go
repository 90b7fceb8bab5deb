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
	"github.com/jmoiron/sqlx"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-thesis-api/api/swagger"
	"github.com/noah-isme/sma-thesis-api/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-thesis-api/internal/middleware"
	"github.com/noah-isme/sma-thesis-api/internal/models"
	"github.com/noah-isme/sma-thesis-api/internal/repository"
	"github.com/noah-isme/sma-thesis-api/internal/service"
	"github.com/noah-isme/sma-thesis-api/pkg/cache"
	"github.com/noah-isme/sma-thesis-api/pkg/config"
	"github.com/noah-isme/sma-thesis-api/pkg/database"
	"github.com/noah-isme/sma-thesis-api/pkg/export"
	"github.com/noah-isme/sma-thesis-api/pkg/jobs"
	"github.com/noah-isme/sma-thesis-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-thesis-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-thesis-api/pkg/middleware/requestid"
	"github.com/noah-isme/sma-thesis-api/pkg/storage"
)

// @title SMA Thesis Workflow API
// @version 1.0.0
// @description Thesis lifecycle from draft through review to publication.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

type thesisStores interface {
	GetByID(ctx context.Context, id string) (*models.Thesis, error)
	List(ctx context.Context, filter models.ThesisFilter) ([]models.Thesis, int, error)
	Create(ctx context.Context, thesis *models.Thesis) error
	Save(ctx context.Context, thesis *models.Thesis, expectedVersion int, feedback *models.ReviewFeedbackEntry) error
	Delete(ctx context.Context, id string, expectedVersion int) error
	Latest(ctx context.Context, thesisID string) (*models.ReviewFeedbackEntry, error)
	History(ctx context.Context, thesisID string) ([]models.ReviewFeedbackEntry, error)
}

type pgStores struct {
	*repository.ThesisRepository
	*repository.FeedbackRepository
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := service.NewMetricsService()
	probes := map[string]handler.ReadinessProbe{}

	var (
		stores   thesisStores
		auditLog *repository.AuditRepository
		db       *sqlx.DB
	)
	switch cfg.Database.Driver {
	case config.DriverMemory:
		logr.Warn("using in-memory thesis storage; data is lost on restart")
		stores = repository.NewMemoryThesisRepository()
	default:
		db, err = database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			logr.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer db.Close() //nolint:errcheck
		stores = pgStores{
			ThesisRepository:   repository.NewThesisRepository(db),
			FeedbackRepository: repository.NewFeedbackRepository(db),
		}
		auditLog = repository.NewAuditRepository(db)
		probes["postgres"] = db.PingContext
	}

	var cacheRepo service.CacheRepository
	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, report cache disabled", zap.Error(err))
	}
	if redisClient != nil {
		redisRepo := repository.NewCacheRepository(redisClient, logr)
		defer redisRepo.Close() //nolint:errcheck
		cacheRepo = redisRepo
		probes["redis"] = redisRepo.Ping
	}
	cacheService := service.NewCacheService(cacheRepo, metrics, cfg.Reports.CacheTTL, logr, cacheRepo != nil)

	blobs, err := storage.NewLocalStorage(cfg.Documents.StorageDir)
	if err != nil {
		logr.Fatal("failed to prepare document storage", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Documents.SignedURLSecret, cfg.Documents.SignedURLTTL)

	cleanupWorker := service.NewDocumentCleanupWorker(stores, blobs, metrics, logr)
	cleanupQueue := jobs.NewQueue("document-cleanup", cleanupWorker.Handle, jobs.QueueConfig{
		Workers:    cfg.Documents.CleanupWorkers,
		MaxRetries: cfg.Documents.CleanupRetries,
		RetryDelay: cfg.Documents.CleanupDelay,
		Logger:     logr,
		OnDrop: func(job jobs.Job, err error) {
			metrics.RecordCleanup("dropped")
		},
	})
	cleanupQueue.Start(ctx)
	defer cleanupQueue.Stop()

	cleanup := service.NewDocumentCleanup(cleanupQueue, logr)
	opts := []service.ThesisServiceOption{
		service.WithThesisPolicy(service.NewThesisPolicy(cfg.Workflow.PublisherRoles)),
		service.WithThesisMetrics(metrics),
		service.WithDocumentCleanup(cleanup),
		service.WithReportInvalidator(service.NewReportInvalidator(cacheService, logr)),
	}
	if auditLog != nil {
		opts = append(opts, service.WithThesisAudit(auditLog))
	}
	engine := service.NewThesisService(stores, logr, opts...)

	documents := service.NewDocumentService(engine, blobs, signer, cleanup, metrics, logr, service.DocumentServiceConfig{
		MaxFileSize:  cfg.Documents.MaxFileSizeBytes,
		AllowedMIMEs: cfg.Documents.AllowedMIMEs,
		APIPrefix:    cfg.APIPrefix,
	})
	feedback := service.NewFeedbackService(stores, engine, logr)
	tokens := service.NewTokenService(service.TokenServiceConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))
	r.Use(internalmiddleware.WithResponseMeta())

	metricsHandler := handler.NewMetricsHandler(metrics, probes)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	thesisHandler := handler.NewThesisHandler(engine, documents, feedback, nil)
	if cfg.Reports.Enabled {
		reports := service.NewReportService(engine, stores, cacheService, export.NewPDFExporter(), logr, service.ReportServiceConfig{CacheTTL: cfg.Reports.CacheTTL})
		thesisHandler = handler.NewThesisHandler(engine, documents, feedback, reports)
	}

	routes := handler.ThesisRoutes{
		Handler: thesisHandler,
		Auth:    internalmiddleware.JWT(tokens),
	}
	if auditLog != nil {
		routes.DownloadAudit = internalmiddleware.Audit(auditLog, logr, models.AuditActionDocumentDownload, "thesis")
	}
	handler.RegisterThesisRoutes(r.Group(cfg.APIPrefix), routes)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "storage", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
