package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/utafrali/cartservice/internal/catalog"
	"github.com/utafrali/cartservice/internal/config"
	"github.com/utafrali/cartservice/internal/event"
	handler "github.com/utafrali/cartservice/internal/handler/http"
	"github.com/utafrali/cartservice/internal/repository"
	mongorepo "github.com/utafrali/cartservice/internal/repository/mongo"
	redisrepo "github.com/utafrali/cartservice/internal/repository/redis"
	"github.com/utafrali/cartservice/internal/service"
	"github.com/utafrali/cartservice/pkg/database"
	"github.com/utafrali/cartservice/pkg/health"
	"github.com/utafrali/cartservice/pkg/httpclient"
	pkgkafka "github.com/utafrali/cartservice/pkg/kafka"
	"github.com/utafrali/cartservice/pkg/middleware"
	"github.com/utafrali/cartservice/pkg/tracing"
)

// App wires together all dependencies and runs the cart service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	closeStore     func(context.Context) error
	producer       *pkgkafka.Producer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerCfg := tracing.DefaultConfig("cart")
	tracerCfg.Environment = cfg.Environment
	tracerCfg.OTLPEndpoint = cfg.OTELEndpoint
	tracerCfg.SampleRate = cfg.OTELSampleRate
	tracerCfg.Enabled = cfg.OTELEnabled
	tracerShutdown, err := tracing.InitTracer(ctx, tracerCfg)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Configure slow store operation logging.
	if cfg.SlowOperationThresholdMs > 0 {
		database.SetSlowOperationLogging(time.Duration(cfg.SlowOperationThresholdMs)*time.Millisecond, logger)
	}

	healthHandler := health.NewHandler()

	// Initialize the cart store.
	repo, closeStore, err := newStore(ctx, cfg, logger, healthHandler)
	if err != nil {
		_ = tracerShutdown(context.Background())
		return nil, err
	}

	// Initialize the event producer.
	var (
		producer  *pkgkafka.Producer
		publisher service.EventPublisher = event.NoopProducer{}
	)
	if cfg.EventsEnabled {
		producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		publisher = event.NewProducer(producer, logger)
		healthHandler.RegisterNonCritical("kafka", producer.Ping)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	} else {
		logger.Info("domain events disabled")
	}

	// Catalog client behind a circuit breaker.
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.CatalogTimeout()
	httpCfg.MaxRetries = cfg.CatalogMaxRetries

	cbCfg := httpclient.CircuitBreakerConfig{
		Name:         "cart-catalog",
		MaxRequests:  cfg.CBMaxRequests,
		Interval:     time.Duration(cfg.CBIntervalSeconds) * time.Second,
		Timeout:      time.Duration(cfg.CBTimeoutSeconds) * time.Second,
		FailureRatio: cfg.CBFailureRatio,
		MinRequests:  cfg.CBMinRequests,
	}
	cbClient := httpclient.NewCircuitBreakerClient(httpclient.New(httpCfg), cbCfg, logger).
		WithFallback(catalog.CircuitOpenFallback)
	catalogClient := catalog.NewClient(cbClient, cfg.CatalogBaseURL, logger)
	healthHandler.RegisterNonCritical("catalog", cbClient.Ping)
	logger.Info("catalog client initialized",
		slog.String("base_url", cfg.CatalogBaseURL),
		slog.Duration("timeout", httpCfg.Timeout),
		slog.Int("max_retries", httpCfg.MaxRetries),
		slog.String("breaker", cbCfg.Name),
	)

	// Build the dependency graph.
	cartService := service.NewCartService(repo, catalogClient, publisher, logger, service.Options{
		RefreshPriceOnRestock: cfg.RefreshPriceOnRestock,
	})

	// HTTP router.
	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.CORSAllowedOrigins
	router := handler.NewRouter(cartService, healthHandler, logger, corsCfg)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		closeStore:     closeStore,
		producer:       producer,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// newStore connects the backend selected by CART_STORE and registers its
// readiness check.
func newStore(ctx context.Context, cfg *config.Config, logger *slog.Logger, hh *health.Handler) (repository.CartRepository, func(context.Context) error, error) {
	switch cfg.Store {
	case config.StoreRedis:
		rdb, err := database.NewRedisClient(ctx, database.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("connected to Redis",
			slog.String("addr", cfg.RedisAddr),
			slog.Int("db", cfg.RedisDB),
			slog.Duration("cart_ttl", cfg.CartTTLDuration()),
		)
		hh.RegisterCritical("redis", database.RedisPing(rdb))
		closeFn := func(context.Context) error { return rdb.Close() }
		return redisrepo.NewCartRepository(rdb, cfg.CartTTLDuration()), closeFn, nil

	default:
		mongoCfg := database.DefaultMongoConfig()
		mongoCfg.URI = cfg.MongoURI
		mongoCfg.Database = cfg.MongoDBName
		db, err := database.NewMongoDatabase(ctx, mongoCfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to mongodb: %w", err)
		}

		repo := mongorepo.NewCartRepository(db, cfg.MongoCollection)
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = db.Client().Disconnect(context.Background())
			return nil, nil, err
		}
		logger.Info("connected to MongoDB",
			slog.String("database", cfg.MongoDBName),
			slog.String("collection", cfg.MongoCollection),
		)
		hh.RegisterCritical("mongodb", database.MongoPing(db))
		return repo, db.Client().Disconnect, nil
	}
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return errors.Join(err, a.Shutdown())
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producer
// 4. Cart store
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests.
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Flush pending spans.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 3. Close Kafka producer.
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 4. Close the store connection.
	if a.closeStore != nil {
		storeCtx, storeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer storeCancel()
		if err := a.closeStore(storeCtx); err != nil {
			a.logger.Error("store close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
