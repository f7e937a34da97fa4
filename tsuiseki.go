// Package tsuiseki is the public API for embedding the tsuiseki trace
// ingestion server.
//
//	app, err := tsuiseki.New(
//	    tsuiseki.WithVersion(version),
//	    tsuiseki.WithLogger(logger),
//	    tsuiseki.WithRetentionPlan("hobby", 30*24*time.Hour),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The root package imports internal/*; internal/* never imports it.
package tsuiseki

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/tsuiseki/internal/cache"
	"github.com/ashita-ai/tsuiseki/internal/config"
	"github.com/ashita-ai/tsuiseki/internal/model"
	"github.com/ashita-ai/tsuiseki/internal/otlp"
	"github.com/ashita-ai/tsuiseki/internal/semconv"
	"github.com/ashita-ai/tsuiseki/internal/server"
	"github.com/ashita-ai/tsuiseki/internal/service/analytics"
	"github.com/ashita-ai/tsuiseki/internal/service/ingest"
	"github.com/ashita-ai/tsuiseki/internal/service/retention"
	"github.com/ashita-ai/tsuiseki/internal/storage"
	"github.com/ashita-ai/tsuiseki/internal/telemetry"
	"github.com/ashita-ai/tsuiseki/migrations"
)

const shutdownTimeout = 15 * time.Second

// App is the tsuiseki server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	sweeper      *retention.Sweeper
	plans        []retention.Plan
	buckets      *cache.Cache[string, []model.Bucket]
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New connects to the database, runs migrations, wires ingestion, analytics
// and retention, and returns a ready-to-run App. It starts no goroutines.
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("tsuiseki starting", "version", version, "port", cfg.Port)

	ctx := context.Background()
	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		Insecure:    cfg.OTELInsecure,
		ServiceName: cfg.ServiceName,
		Version:     version,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		_ = otelShutdown(ctx)
		return nil, fmt.Errorf("storage: %w", err)
	}
	db.RegisterPoolMetrics()

	fail := func(err error) (*App, error) {
		db.Close()
		_ = otelShutdown(ctx)
		return nil, err
	}

	if cfg.SkipEmbeddedMigrations {
		logger.Info("embedded migrations skipped by config")
	} else if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fail(fmt.Errorf("migrations: %w", err))
	}
	for i, extraFS := range o.extraMigrations {
		if err := db.RunMigrations(ctx, extraFS); err != nil {
			return fail(fmt.Errorf("extra migrations[%d]: %w", i, err))
		}
	}

	var schemaOK bool
	if err := db.Pool().QueryRow(ctx,
		`SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'spans')`,
	).Scan(&schemaOK); err != nil {
		return fail(fmt.Errorf("schema verification: %w", err))
	}
	if !schemaOK {
		return fail(errors.New("critical table 'spans' does not exist after migration"))
	}

	decoder := otlp.NewDecoder(logger, cfg.MaxDecompressedBytes)
	ingestSvc := ingest.New(decoder, semconv.DefaultRegistry(logger), db, logger)

	buckets, err := cache.New[string, []model.Bucket](int64(cfg.AnalyticsCacheSize), cfg.AnalyticsCacheTTL)
	if err != nil {
		return fail(fmt.Errorf("analytics cache: %w", err))
	}
	analyticsSvc := analytics.New(db, buckets, logger)

	middlewares := make([]func(http.Handler) http.Handler, len(o.middlewares))
	for i, mw := range o.middlewares {
		middlewares[i] = mw
	}

	srv := server.New(server.ServerConfig{
		DB:                  db,
		IngestSvc:           ingestSvc,
		AnalyticsSvc:        analyticsSvc,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		Middlewares:         middlewares,
	})

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		sweeper:      retention.New(db, logger, cfg.RetentionMaxTraces, cfg.RetentionPageSize),
		plans:        mergePlans(cfg.RetentionPlans, o.plans),
		buckets:      buckets,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Handler returns the root HTTP handler, for tests and for mounting the
// server inside another mux.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Run starts the retention loop (when configured) and the HTTP server, then
// blocks until ctx is cancelled or the server fails. Shutdown is called on
// return.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.RetentionInterval > 0 && len(a.plans) > 0 {
		go a.sweeper.Loop(ctx, a.plans, a.cfg.RetentionInterval)
		a.logger.Info("retention loop started",
			"interval", a.cfg.RetentionInterval, "plans", len(a.plans))
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, a.Shutdown(shutdownCtx))
}

// Shutdown drains in-flight HTTP requests, then releases the cache, the
// telemetry providers and the database pool.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("tsuiseki shutting down")

	err := a.srv.Shutdown(ctx)
	if err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}

	a.buckets.Close()
	if otelErr := a.otelShutdown(ctx); otelErr != nil {
		a.logger.Warn("telemetry shutdown error", "error", otelErr)
	}
	a.db.Close()

	a.logger.Info("tsuiseki stopped")
	return err
}

// mergePlans overlays option plans on configured ones by name, keeping the
// configured order and appending new names.
func mergePlans(configured []config.RetentionPlan, extra []retentionPlan) []retention.Plan {
	plans := make([]retention.Plan, 0, len(configured)+len(extra))
	index := make(map[string]int)
	for _, p := range configured {
		index[p.Name] = len(plans)
		plans = append(plans, retention.Plan{Name: p.Name, TTL: p.TTL})
	}
	for _, p := range extra {
		if i, ok := index[p.name]; ok {
			plans[i].TTL = p.ttl
			continue
		}
		index[p.name] = len(plans)
		plans = append(plans, retention.Plan{Name: p.name, TTL: p.ttl})
	}
	return plans
}
