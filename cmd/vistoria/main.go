package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vistoriahq/vistoria/pkg/api"
	"github.com/vistoriahq/vistoria/pkg/async"
	"github.com/vistoriahq/vistoria/pkg/audit"
	"github.com/vistoriahq/vistoria/pkg/config"
	"github.com/vistoriahq/vistoria/pkg/guard"
	"github.com/vistoriahq/vistoria/pkg/integrity"
	"github.com/vistoriahq/vistoria/pkg/middleware"
	"github.com/vistoriahq/vistoria/pkg/observability"
	"github.com/vistoriahq/vistoria/pkg/orgs"
	"github.com/vistoriahq/vistoria/pkg/rbac"
	"github.com/vistoriahq/vistoria/pkg/storage/postgres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "vistoria: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("Starting vistoria authorization service")

	db, err := postgres.Connect(postgres.ConnectionConfig{
		URL:         cfg.Database.URL,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.MaxLifetime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := postgres.Migrate(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis URL: %w", err)
		}
		if cfg.Redis.Password != "" {
			opts.Password = cfg.Redis.Password
		}
		if cfg.Redis.DB != 0 {
			opts.DB = cfg.Redis.DB
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			// rate limiting fails open, so a dead redis degrades rather than blocks
			logger.WithError(err).Warn("Redis unreachable, management rate limiting disabled")
		}
		cancel()
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	var otelProviders *observability.OTelProviders
	if cfg.Observability.OTelEnabled {
		otelProviders, err = observability.InitOTel(context.Background(), observability.OTelConfig{
			Enabled:        true,
			Endpoint:       cfg.Observability.OTelEndpoint,
			ServiceName:    cfg.Observability.OTelServiceName,
			ServiceVersion: cfg.Observability.OTelServiceVersion,
			Insecure:       cfg.Observability.OTelInsecure,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}

	// Audit pipeline. The synchronous writer persists to postgres; the async
	// wrapper adds the bounded queue, retries and the dead-letter file.
	dbLogger, err := audit.NewDBLogger(db)
	if err != nil {
		return fmt.Errorf("failed to initialize audit storage: %w", err)
	}
	auditor := audit.NewAsyncWriter(context.Background(), dbLogger, audit.AsyncOptions{
		QueueSize:      cfg.Audit.QueueSize,
		Workers:        cfg.Audit.Workers,
		WriteTimeout:   cfg.Audit.WriteTimeout,
		MaxRetries:     cfg.Audit.MaxRetries,
		RetryBackoff:   cfg.Audit.RetryBackoff,
		DeadLetterPath: cfg.Audit.DeadLetterPath,
	}, logger, metrics)

	protected := cfg.Protected.Identity()
	orgService := orgs.NewPostgresService(db)
	orgResolver := orgs.NewHierarchyResolver(orgService, 1024, 5*time.Minute)

	engine := rbac.NewEngine(protected, orgResolver, auditor, logger, metrics)
	identityGuard := guard.New(protected, auditor, logger, metrics)
	checker := integrity.NewChecker(db, protected, cfg.Protected.Reason, orgService, auditor, logger, metrics)

	actorStore := postgres.NewActorStore(db)
	healthChecker := observability.NewHealthChecker(db, redisClient)

	var limiter *middleware.RateLimiter
	if redisClient != nil {
		limiter = middleware.NewRateLimiter(redisClient, middleware.SysAdminRateLimitConfig(), "vistoria", logger)
	}

	router := api.NewRouter(api.RouterConfig{
		Auth:    middleware.NewAuthMiddleware(actorStore, logger),
		Guard:   identityGuard,
		Limiter: limiter,
		Metrics: metrics,
		Health:  healthChecker,
		Users:   api.NewUserHandlers(actorStore, engine, logger),
		Admin:   api.NewAdminHandlers(checker, auditor, healthChecker, logger),
	})

	var handler http.Handler = router
	if otelProviders != nil {
		handler = otelhttp.NewHandler(handler, "vistoria")
	}

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Metrics live on a separate listener so the scrape endpoint is never
	// behind the auth chain.
	if cfg.Observability.MetricsEnabled {
		metricsServer := &http.Server{
			Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
			Handler: metricsHandler(registry, healthChecker),
		}
		async.SafeGo(context.Background(), 0, "metrics server", logger, func(ctx context.Context) error {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return auditor.Shutdown(cfg.Server.ShutdownTimeout)
	})
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(otelProviders.Shutdown)
	}

	go func() {
		logger.Infof("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server failed")
		}
	}()

	return shutdown.WaitForShutdown()
}

func metricsHandler(registry *prometheus.Registry, health *observability.HealthChecker) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(registry))
	mux.HandleFunc("/healthz", health.Liveness)
	mux.HandleFunc("/readyz", health.Readiness)
	return mux
}
