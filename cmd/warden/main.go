// Command warden runs the role and permission management service.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wardenhq/warden/pkg/auth"
	"github.com/wardenhq/warden/pkg/config"
	"github.com/wardenhq/warden/pkg/events"
	"github.com/wardenhq/warden/pkg/middleware"
	"github.com/wardenhq/warden/pkg/observability"
	"github.com/wardenhq/warden/pkg/roles"
	"github.com/wardenhq/warden/pkg/roles/cache"
	rolespg "github.com/wardenhq/warden/pkg/roles/postgres"
	"github.com/wardenhq/warden/pkg/users"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("starting warden")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Metrics
	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	// Tracing
	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize tracing")
		os.Exit(1)
	}
	defer func() {
		if err := providers.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Warn("tracer shutdown failed")
		}
	}()

	// Storage
	var (
		roleStore roles.Store
		userStore users.Store
		failStore events.FailureStore
		health    func(context.Context) error
	)
	switch cfg.Storage.Type {
	case "postgres":
		pg, err := rolespg.Open(rolespg.Config{
			URL:      cfg.Storage.PostgresURL,
			MaxConns: cfg.Storage.PostgresMaxConns,
			Timeout:  cfg.Storage.PostgresTimeout,
		})
		if err != nil {
			logger.WithError(err).Error("failed to open postgres")
			os.Exit(1)
		}
		defer pg.Close()
		if metrics != nil {
			pg.WithMetrics(metrics)
		}
		if err := pg.Migrate(ctx); err != nil {
			logger.WithError(err).Error("migration failed")
			os.Exit(1)
		}

		upg := users.NewPostgresStore(pg.DB())
		if err := upg.Migrate(ctx); err != nil {
			logger.WithError(err).Error("users migration failed")
			os.Exit(1)
		}
		fpg := events.NewPostgresFailureStore(pg.DB())
		if err := fpg.Migrate(ctx); err != nil {
			logger.WithError(err).Error("event failures migration failed")
			os.Exit(1)
		}

		roleStore, userStore, failStore = pg, upg, fpg
		health = pg.HealthCheck
	default:
		roleStore = roles.NewMemoryStore()
		userStore = users.NewMemoryStore()
		failStore = events.NewMemoryFailureStore()
		health = func(context.Context) error { return nil }
	}

	if cfg.Storage.CacheEnabled {
		cached, err := cache.New(roleStore, cache.Config{
			RedisAddr:     cfg.Storage.RedisURL,
			RedisPassword: cfg.Storage.RedisPassword,
			RedisDB:       cfg.Storage.RedisDB,
			MaxRetries:    cfg.Storage.RedisMaxRetries,
			PoolSize:      cfg.Storage.RedisPoolSize,
			L1Size:        cfg.Storage.L1CacheSize,
			TTL:           cfg.Storage.CacheTTL,
		})
		if err != nil {
			logger.WithError(err).Error("failed to enable cache")
			os.Exit(1)
		}
		defer cached.Close()
		if metrics != nil {
			cached.WithMetrics(metrics)
		}
		roleStore = cached
		logger.Info("role cache enabled")
	}

	// Events
	eventLog := logrus.New()
	bus := events.NewBus(eventLog)
	emitter := events.NewSafeEmitter(bus, failStore, eventLog)
	if metrics != nil {
		emitter.WithMetrics(metrics)
	}

	var retry *events.RetryService
	if cfg.Events.RetryEnabled {
		retry = events.NewRetryService(bus, failStore, events.RetryConfig{
			Schedule:    cfg.Events.RetrySchedule,
			Batch:       cfg.Events.RetryBatch,
			MaxAttempts: cfg.Events.MaxRetries,
		}, eventLog)
		if metrics != nil {
			retry.WithMetrics(metrics)
		}
		if err := retry.Start(); err != nil {
			logger.WithError(err).Error("failed to start event retry scheduler")
			os.Exit(1)
		}
		defer retry.Stop()
	}

	// Services
	roleService := roles.NewService(roleStore, userStore, emitter, logger)
	userService := users.NewService(userStore, roleService, logger)

	// Auth
	verifier := auth.NewStaticVerifier()
	for hash, actorID := range cfg.Auth.Tokens {
		verifier.RegisterTokenHash(hash, actorID)
	}
	authMiddleware := middleware.NewAuthMiddleware(verifier, cfg.Auth.Optional)

	// Router
	router := mux.NewRouter()
	roles.NewHandler(roleService, logger).RegisterRoutes(router)
	users.NewHandler(userService, logger).RegisterRoutes(router)

	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogging(logger))
	router.Use(authMiddleware.Handler)
	if metrics != nil {
		router.Use(metrics.HTTPMiddleware(routeTemplate))
	}

	var apiHandler http.Handler = router
	if cfg.Observability.OTelEnabled {
		apiHandler = otelhttp.NewHandler(router, "warden")
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      apiHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux(registry, health),
	}

	go func() {
		logger.Infof("health server listening on :%s", cfg.Server.HealthPort)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	go func() {
		logger.Infof("API server listening on :%s", cfg.Server.Port)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("API server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("API server shutdown failed")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("health server shutdown failed")
	}
	logger.Info("stopped")
}

// routeTemplate resolves the mux route template for metric labels so ids
// do not explode label cardinality.
func routeTemplate(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return ""
	}
	if tmpl, err := route.GetPathTemplate(); err == nil {
		return tmpl
	}
	return ""
}

func healthMux(registry *prometheus.Registry, check func(context.Context) error) http.Handler {
	mx := http.NewServeMux()
	mx.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mx.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := check(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	mx.Handle("/metrics", observability.Handler(registry))
	return mx
}
