// Package main is the entry point for the consultation workflow server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sanjabh11/consultflow/internal/audit"
	"github.com/sanjabh11/consultflow/internal/config"
	"github.com/sanjabh11/consultflow/internal/events"
	"github.com/sanjabh11/consultflow/internal/idempotency"
	"github.com/sanjabh11/consultflow/internal/observability"
	"github.com/sanjabh11/consultflow/internal/openapi"
	"github.com/sanjabh11/consultflow/internal/policy"
	"github.com/sanjabh11/consultflow/internal/progress"
	"github.com/sanjabh11/consultflow/internal/template"
	"github.com/sanjabh11/consultflow/internal/transport"
	"github.com/sanjabh11/consultflow/internal/workflow"
	"github.com/sanjabh11/consultflow/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "", "path to configuration file (defaults apply when empty)")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "consultd", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Load milestone templates and the API description.
	templates, err := template.Load(cfg.Templates.Directories)
	if err != nil {
		logger.Error("template loading failed", zap.Error(err))
		return 1
	}
	registry := template.NewRegistry(templates)
	metrics.SetTemplatesLoaded(registry.Len())

	apiDoc, err := openapi.Load()
	if err != nil {
		logger.Error("API description failed to load", zap.Error(err))
		return 1
	}

	// Step 5: Initialize the capability resolver.
	evaluator, staticPolicy, err := buildPolicy(cfg.Policy, logger)
	if err != nil {
		logger.Error("policy initialization failed", zap.Error(err))
		return 1
	}
	resolver := policy.NewResolver(evaluator, cfg.Policy.CacheTTL, policy.WithMetrics(metrics))

	authenticate, err := transport.NewAuthenticator(cfg.Identity)
	if err != nil {
		logger.Error("identity initialization failed", zap.Error(err))
		return 1
	}

	// Step 6: Open the workflow store.
	store, storeHealth, storeCloser, err := buildWorkflowStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("workflow store initialization failed", zap.Error(err))
		return 1
	}

	// Step 7: Audit sinks.
	sink, err := buildAuditSink(cfg.Audit, store, logger)
	if err != nil {
		logger.Error("audit sink initialization failed", zap.Error(err))
		return 1
	}
	recorder := audit.NewRecorder(sink,
		audit.WithLogger(logger),
		audit.WithFailureCounter(metrics.AuditFailures()),
	)

	// Step 8: Event bus, tracker and engine.
	bus := events.NewBus(
		events.WithLogger(logger.Named("events")),
		events.WithPanicHook(func(evt model.Event) { metrics.RecordListenerPanic(string(evt.Type)) }),
	)

	engine := workflow.NewEngine(store, recorder, bus,
		workflow.WithMilestonePlanner(registry),
		workflow.WithMetrics(metrics),
		workflow.WithLogger(logger.Named("workflow")),
	)
	tracker := progress.NewTracker(engine,
		progress.WithPublisher(bus),
		progress.WithMetrics(metrics),
		progress.WithLogger(logger.Named("progress")),
		progress.WithDefaults(cfg.Tracking.DefaultInterval, cfg.Tracking.Thresholds),
		progress.WithLimits(progress.Limits{
			MaxSnapshots:      cfg.Tracking.MaxSnapshots,
			MaxAlerts:         cfg.Tracking.MaxAlerts,
			MaxActivities:     cfg.Tracking.MaxActivities,
			MaxReports:        cfg.Tracking.MaxReports,
			SnapshotRetention: cfg.Tracking.SnapshotRetention,
			ActivityRetention: cfg.Tracking.ActivityRetention,
		}),
	)
	workflow.WithActivityLog(tracker)(engine)

	// Step 9: Idempotency store (optional).
	idemStore, idemHealth, idemCloser, err := buildIdempotencyStore(ctx, cfg.Idempotency, logger)
	if err != nil {
		logger.Error("idempotency store initialization failed", zap.Error(err))
		return 1
	}

	// Step 10: Build HTTP router.
	router := transport.NewRouter(transport.Dependencies{
		Config:             cfg,
		Logger:             logger,
		Engine:             engine,
		Tracker:            tracker,
		Templates:          registry,
		Bus:                bus,
		Authenticate:       authenticate,
		CapabilityResolver: resolver,
		Idempotency:        idemStore,
		Metrics:            metrics,
		Gatherer:           prometheus.DefaultGatherer,
		Readiness: observability.ReadinessChecks{
			TemplatesLoaded:  func() bool { return registry.Len() > 0 },
			WorkflowStore:    storeHealth,
			IdempotencyStore: idemHealth,
		},
		OpenAPI: apiDoc,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 11: Start background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	go tracker.RunCleanup(bgCtx, cfg.Tracking.CleanupInterval)
	if cfg.Tracking.AutoStart {
		unsubscribe := bus.SubscribeAll(autoTrack(bgCtx, tracker, logger))
		defer unsubscribe()
	}
	go reloadOnHangup(bgCtx, cfg, registry, staticPolicy, resolver, metrics, logger)

	// Step 12: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("store", cfg.Store.Driver),
		zap.Int("templates", registry.Len()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	bgCancel()
	tracker.Close()

	if storeCloser != nil {
		storeCloser()
	}
	if idemCloser != nil {
		idemCloser()
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildPolicy returns the static policy from cfg.File, or AllowAll when no
// file is configured. The static policy is also returned for reloads.
func buildPolicy(cfg config.PolicyConfig, logger *zap.Logger) (policy.Evaluator, *policy.StaticPolicy, error) {
	if cfg.File == "" {
		logger.Warn("no policy file configured, every caller is granted every capability")
		return policy.AllowAll{}, nil, nil
	}
	p, err := policy.NewStaticPolicy(cfg.File)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("policy loaded", zap.String("file", cfg.File), zap.Int("roles", p.Roles()))
	return p, p, nil
}

// buildWorkflowStore opens the configured store. The returned closer may be
// nil.
func buildWorkflowStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (workflow.WorkflowStore, observability.HealthChecker, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory workflow store")
		return workflow.NewMemoryWorkflowStore(), nil, nil, nil

	case "sqlite":
		store, err := workflow.OpenSQLiteWorkflowStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("workflow store: %w", err)
		}
		logger.Info("using sqlite workflow store", zap.String("path", cfg.SQLitePath))
		closer := func() {
			if err := store.Close(); err != nil {
				logger.Error("sqlite close failed", zap.Error(err))
			}
		}
		return store, observability.PingFunc(store.Ping), closer, nil

	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, nil, fmt.Errorf("workflow store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("workflow store: parse DSN: %w", err)
		}
		if cfg.MaxConns > 0 {
			poolCfg.MaxConns = int32(cfg.MaxConns)
		}
		if cfg.MinConns > 0 {
			poolCfg.MinConns = int32(cfg.MinConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
		}

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("workflow store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("workflow store: ping: %w", err)
		}

		store := workflow.NewPgWorkflowStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("workflow store: schema: %w", err)
		}
		logger.Info("using postgres workflow store")
		return store, observability.PingFunc(store.Ping), pool.Close, nil

	default:
		return nil, nil, nil, fmt.Errorf("unsupported workflow store driver: %q", cfg.Driver)
	}
}

// buildAuditSink fans audit entries out to every configured sink.
func buildAuditSink(cfg config.AuditConfig, store workflow.WorkflowStore, logger *zap.Logger) (audit.Sink, error) {
	var sinks audit.MultiSink
	for _, name := range cfg.Sinks {
		switch name {
		case "log":
			sinks = append(sinks, audit.NewLogSink(logger))
		case "store":
			sinks = append(sinks, audit.NewStoreSink(store))
		case "file":
			fs, err := audit.NewFileSink(cfg.FilePath)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, fs)
		default:
			return nil, fmt.Errorf("unknown audit sink %q", name)
		}
	}
	return sinks, nil
}

// buildIdempotencyStore creates the idempotency store based on config. All
// return values are nil when idempotency is disabled.
func buildIdempotencyStore(ctx context.Context, cfg config.IdempotencyConfig, logger *zap.Logger) (idempotency.Store, observability.HealthChecker, func(), error) {
	if !cfg.Enabled {
		return nil, nil, nil, nil
	}

	switch cfg.Driver {
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, nil, fmt.Errorf("idempotency store: %s environment variable not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, nil, fmt.Errorf("idempotency store: ping: %w", err)
		}
		store := idempotency.NewRedisStore(client)
		logger.Info("using redis idempotency store", zap.String("addr", addr))
		return store, store, func() { client.Close() }, nil
	default:
		logger.Info("using in-memory idempotency store")
		return idempotency.NewMemoryStore(), nil, nil, nil
	}
}

// autoTrack starts tracking every newly created workflow. Listeners must
// not block the publisher, so tracking starts on its own goroutine.
func autoTrack(ctx context.Context, tracker *progress.Tracker, logger *zap.Logger) events.Listener {
	return func(evt model.Event) {
		if evt.Type != model.EventWorkflowCreated {
			return
		}
		go func() {
			if _, err := tracker.StartTracking(ctx, evt.WorkflowID, progress.TrackOptions{}); err != nil {
				logger.Warn("auto-tracking failed",
					zap.String("workflow_id", evt.WorkflowID),
					zap.Error(err),
				)
			}
		}()
	}
}

// reloadOnHangup reloads templates and the static policy on SIGHUP. A
// failed reload keeps the previous state.
func reloadOnHangup(ctx context.Context, cfg *config.Config, registry *template.Registry, sp *policy.StaticPolicy, resolver *policy.Resolver, metrics *observability.Metrics, logger *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}

		templates, err := template.Load(cfg.Templates.Directories)
		if err != nil {
			metrics.RecordTemplateReload("error")
			logger.Error("template reload failed", zap.Error(err))
		} else {
			registry.Replace(templates)
			metrics.RecordTemplateReload("ok")
			metrics.SetTemplatesLoaded(registry.Len())
			logger.Info("templates reloaded",
				zap.Int("templates", registry.Len()),
				zap.String("checksum", registry.Checksum()),
			)
		}

		if sp != nil {
			if err := sp.Sync(); err != nil {
				logger.Error("policy reload failed", zap.Error(err))
				continue
			}
			resolver.InvalidateAll()
			logger.Info("policy reloaded", zap.Int("roles", sp.Roles()))
		}
	}
}
