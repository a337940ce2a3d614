// Package main is the entry point for the descriptor API server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/api"
	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/config"
	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/db"
	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/descriptor"
	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/discovery"
	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/health"
	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/idempotency"
	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/middleware"
	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/ranking"
	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/search"
	"github.com/lukeboustridge-prog/Worldskills-sub002/internal/tracing"
	"github.com/lukeboustridge-prog/Worldskills-sub002/migrations"
)

const (
	serviceName    = "descriptors-api"
	serviceVersion = "0.1.0"

	shutdownTimeout = 10 * time.Second
	cleanupInterval = time.Minute
)

func main() {
	configPath := flag.String("config", "", "path to an optional YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Descriptor API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) == 0 {
		errs = cfg.Validate()
	}
	if len(errs) > 0 {
		for _, err := range errs {
			slog.Error("invalid configuration", "error", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// app owns the wired HTTP handler and every resource that must be released
// on shutdown.
type app struct {
	handler http.Handler
	closers []func(context.Context) error
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// newApp builds the storage, engines, middleware and routes described by cfg.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}
	fail := func(err error) (*app, error) {
		if closeErr := a.Close(context.Background()); closeErr != nil {
			logger.Error("failed to release resources", "error", closeErr)
		}
		return nil, err
	}

	tp, err := tracing.NewProvider(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Enabled:        cfg.TracingEnabled,
		Environment:    cfg.Env,
		ExporterType:   cfg.TracingExporterType,
		OTLPEndpoint:   cfg.TracingOTLPEndpoint,
		SamplingRate:   cfg.TracingSampleRate,
		InsecureMode:   cfg.TracingInsecure,
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize tracing: %w", err))
	}
	a.closers = append(a.closers, tp.Shutdown)

	weights, err := ranking.LoadCalibration(cfg.RankingCalibrationPath)
	if err != nil {
		logger.Warn("ranking calibration rejected, using default weights", "error", err)
	}

	healthCfg := api.HealthHandlersConfig{MetricsEnabled: true}

	var repo descriptor.Repository
	if cfg.DatabaseURL != "" {
		conn, err := db.Open(ctx, cfg.DatabaseURL, db.DefaultPoolConfig())
		if err != nil {
			return fail(err)
		}
		a.closers = append(a.closers, func(context.Context) error { return conn.Close() })

		if err := prepareDatabase(ctx, conn, logger); err != nil {
			return fail(err)
		}
		repo = descriptor.NewPostgresRepository(conn, logger)
		healthCfg.DBChecker = health.NewDBChecker(conn)
	} else {
		if cfg.IsProduction() {
			return fail(config.ErrMissingDatabaseURL)
		}
		logger.Warn("DATABASE_URL not set, using in-memory descriptor store")
		repo = descriptor.NewInMemoryRepository(logger)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	httpMetrics := middleware.NewMetrics()
	searchMetrics := search.NewMetrics()
	discoveryMetrics := discovery.NewMetrics()
	for _, r := range []interface {
		Register(prometheus.Registerer) error
	}{httpMetrics, searchMetrics, discoveryMetrics} {
		if err := r.Register(reg); err != nil {
			return fail(fmt.Errorf("failed to register metrics: %w", err))
		}
	}

	var limitStore middleware.RateLimitStore
	var idempotencyRepo idempotency.Repository
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fail(fmt.Errorf("invalid REDIS_URL: %w", err))
		}
		client := redis.NewClient(opts)
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		limitStore = middleware.NewRedisRateLimitStore(client, httpMetrics, logger)
		idempotencyRepo = idempotency.NewRedisRepository(client, idempotency.DefaultExpiry)
		healthCfg.RedisChecker = health.NewRedisChecker(client)
	} else {
		memStore := middleware.NewInMemoryRateLimitStore()
		memKeys := idempotency.NewInMemoryRepository(idempotency.DefaultExpiry)
		cleanupCtx, cancel := context.WithCancel(context.Background())
		go runCleanup(cleanupCtx, memStore)
		go idempotency.RunPeriodicCleanup(cleanupCtx, memKeys, cleanupInterval, idempotency.DefaultExpiry, logger)
		a.closers = append(a.closers, func(context.Context) error { cancel(); return nil })
		limitStore = memStore
		idempotencyRepo = memKeys
	}

	searchEngine := search.NewEngine(repo,
		search.WithWeights(weights.Fields),
		search.WithLimits(search.Limits{
			MaxPage:         cfg.SearchMaxPage,
			DefaultPageSize: cfg.SearchDefaultPageSize,
			MaxPageSize:     cfg.SearchMaxPageSize,
			LatencyBudget:   time.Duration(cfg.SearchLatencyBudgetMS) * time.Millisecond,
		}),
		search.WithObserver(searchMetrics),
		search.WithLogger(logger),
	)
	discoveryEngine := discovery.NewEngine(repo, discovery.Config{
		DuplicateThreshold: cfg.DuplicateThreshold,
		RelatedThreshold:   cfg.RelatedThreshold,
		DefaultLimit:       cfg.SimilarDefaultLimit,
		MaxLimit:           cfg.SimilarMaxLimit,
	}, discoveryMetrics, logger)

	handlers := &api.Handlers{
		Health:      api.NewHealthHandlers(healthCfg),
		Search:      api.NewSearchHandlers(searchEngine),
		Discovery:   api.NewDiscoveryHandlers(discoveryEngine),
		Descriptors: api.NewDescriptorHandlers(repo, discoveryEngine),
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Idempotency: middleware.Idempotency(idempotencyRepo, httpMetrics, logger),
	}

	searchLimit := middleware.DefaultSearchLimit()
	searchLimit.RequestsPerWindow = cfg.SearchRateLimit
	mux := http.NewServeMux()
	handlers.Register(mux, middleware.RateLimiter(limitStore, searchLimit, middleware.IPKeyFunc(), "search", httpMetrics))
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := fmt.Fprintf(w, `{"service":%q,"version":%q}`, serviceName, serviceVersion); err != nil {
			logger.Error("failed to write response", "error", err)
		}
	})

	// Applied innermost first: the request ID must exist before tracing and logging run.
	var handler http.Handler = withNotFound(mux)
	handler = middleware.RateLimiter(limitStore, middleware.DefaultGlobalLimit(), middleware.IPKeyFunc(), "global", httpMetrics)(handler)
	handler = middleware.CORS(middleware.CORSConfig{AllowedOrigins: cfg.CORSAllowedOrigins, MaxAge: 3600})(handler)
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	handler = middleware.Logging(logger)(handler)
	if tp.IsEnabled() {
		handler = middleware.Tracing(serviceName)(handler)
	}
	a.handler = middleware.RequestID(handler)

	return a, nil
}

// prepareDatabase applies pending migrations and warns when pg_trgm is missing.
func prepareDatabase(ctx context.Context, conn *sql.DB, logger *slog.Logger) error {
	applied, err := db.Migrate(ctx, conn, migrations.FS, logger)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	logger.Info("database ready", "migrations_applied", applied)

	ok, err := db.HasTrigram(ctx, conn)
	if err != nil {
		return err
	}
	if !ok {
		logger.Warn(db.TrigramRequirement)
	}
	return nil
}

func runCleanup(ctx context.Context, store *middleware.InMemoryRateLimitStore) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.Cleanup()
		}
	}
}

// withNotFound answers unrouted paths with the JSON error envelope while
// leaving method mismatches to the mux's 405 handling.
func withNotFound(mux *http.ServeMux) http.Handler {
	methods := []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, pattern := mux.Handler(r); pattern != "" {
			mux.ServeHTTP(w, r)
			return
		}
		for _, m := range methods {
			probe := r.Clone(r.Context())
			probe.Method = m
			if _, pattern := mux.Handler(probe); pattern != "" {
				mux.ServeHTTP(w, r)
				return
			}
		}
		ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
		api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
	})
}

// run serves until ctx is cancelled, then drains in-flight requests.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return serve(ctx, ln, cfg, logger)
}

func serve(ctx context.Context, ln net.Listener, cfg *config.Config, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		ln.Close()
		return err
	}

	server := &http.Server{
		Handler:      a.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", ln.Addr().String())
		serveErr <- server.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			if closeErr := a.Close(context.Background()); closeErr != nil {
				logger.Error("failed to release resources", "error", closeErr)
			}
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	shutdownErr := server.Shutdown(shutdownCtx)
	if err := a.Close(shutdownCtx); err != nil {
		logger.Error("failed to release resources", "error", err)
	}
	if shutdownErr != nil {
		return fmt.Errorf("server forced to shutdown: %w", shutdownErr)
	}
	logger.Info("server stopped")
	return nil
}
