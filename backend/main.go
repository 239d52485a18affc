package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	v1 "github.com/smartshieldai-idps/flowguard/backend/api/v1"
	"github.com/smartshieldai-idps/flowguard/backend/config"
	"github.com/smartshieldai-idps/flowguard/backend/internal/detection/elasticsearch"
	"github.com/smartshieldai-idps/flowguard/backend/internal/detection/ml"
	"github.com/smartshieldai-idps/flowguard/backend/internal/geo"
	"github.com/smartshieldai-idps/flowguard/backend/internal/health"
	"github.com/smartshieldai-idps/flowguard/backend/internal/metrics"
	"github.com/smartshieldai-idps/flowguard/backend/internal/middleware"
	"github.com/smartshieldai-idps/flowguard/backend/internal/store"
	"github.com/smartshieldai-idps/flowguard/backend/internal/tracing"
	"github.com/smartshieldai-idps/flowguard/pkg/logging"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting FlowGuard backend server...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer shutdownTracing(context.Background())

	collector := metrics.NewMetricsCollector()

	// Initialize Redis store
	dataStore, err := store.NewStore(cfg.RedisURL, store.Options{
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
	}, collector)
	if err != nil {
		logger.Fatal("Failed to initialize Redis store", zap.Error(err))
	}
	defer dataStore.Close()

	deps := ml.Dependencies{
		Records: dataStore,
		Catalog: dataStore,
		Alerts:  dataStore,
	}

	// Initialize Elasticsearch logger
	var esLogger *elasticsearch.Logger
	if cfg.Elasticsearch.Enabled {
		esLogger, err = elasticsearch.NewLogger(
			cfg.ElasticsearchAddrs,
			cfg.ElasticsearchUser,
			cfg.ElasticsearchPass,
			cfg.ElasticsearchIndex,
		)
		if err != nil {
			logger.Warn("Failed to initialize Elasticsearch logger, alert indexing disabled", zap.Error(err))
		} else {
			deps.Indexer = esLogger
		}
	}

	resolver, err := geo.Open(cfg.GeoIP.DatabasePath, logger.Named("geo"))
	if err != nil {
		logger.Warn("GeoIP enrichment disabled", zap.Error(err))
	} else {
		defer resolver.Close()
		if resolver.Enabled() {
			deps.Geo = resolver
		}
	}

	service, err := ml.NewService(ml.ServiceConfig{
		ModelDir:  cfg.Detection.ML.ModelDir,
		CacheSize: cfg.Detection.ML.CacheSize,
	}, deps, collector, logger.Named("ml"))
	if err != nil {
		logger.Fatal("Failed to initialize detection service", zap.Error(err))
	}
	if cfg.Detection.ML.WatchModelDir {
		if err := service.Cache().Watch(ctx, cfg.Detection.ML.ModelDir); err != nil {
			logger.Warn("Model directory watch disabled", zap.Error(err))
		}
	}

	checker := health.NewHealthChecker(dataStore.Client(), nil, cfg.Detection.ML.ModelDir)
	if esLogger != nil {
		checker = health.NewHealthChecker(dataStore.Client(), esLogger.Client(), cfg.Detection.ML.ModelDir)
	}

	// Initialize Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	limiter := middleware.NewRateLimiter(rate.Limit(cfg.Security.RateLimit), cfg.Security.RateLimitBurst)
	router.Use(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Logger(logger, collector),
		middleware.SecurityHeaders(),
		limiter.RateLimit(),
		middleware.ValidateJSON(),
		middleware.MaxBodySize(cfg.Security.MaxRequestSize),
		middleware.RequestTimeout(cfg.Security.RequestTimeout),
	)

	handler := v1.NewHandler(dataStore, service, checker, collector, logger.Named("api"))
	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Security.RequestTimeout + 5*time.Second,
		IdleTimeout:  120 * time.Second,
	}
	if cfg.Server.TLS.Enabled {
		server.TLSConfig = config.GetTLSConfig()
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Server starting", zap.String("port", cfg.Server.Port), zap.Bool("tls", cfg.Server.TLS.Enabled))
		var err error
		if cfg.Server.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Server.TLS.CertPath, cfg.Server.TLS.KeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return
	}

	logger.Info("Server exited successfully")
}
