// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/rowguard/rowguard/internal/access/decisionapi"
	"github.com/rowguard/rowguard/internal/access/policy"
	"github.com/rowguard/rowguard/internal/access/policy/audit"
	"github.com/rowguard/rowguard/internal/access/policy/store"
	"github.com/rowguard/rowguard/internal/config"
	"github.com/rowguard/rowguard/internal/logging"
	"github.com/rowguard/rowguard/internal/observability"
)

// DBPool is the connection pool used by the store and the audit writer.
type DBPool interface {
	store.Pool
	Close()
}

// ObservabilityServer is the HTTP server for metrics, probes and the
// decision API.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Handle(pattern string, h http.Handler)
	Registry() prometheus.Registerer
	Metrics() *observability.Metrics
}

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// PoolFactory opens a PostgreSQL pool.
	// Default: pgxpool.New
	PoolFactory func(ctx context.Context, url string) (DBPool, error)

	// ListenerFactory creates the policy change listener.
	// Default: store.NewPgListener over a dedicated pgx connection
	ListenerFactory func(url string, logger *slog.Logger) policy.Listener

	// ObservabilityServerFactory creates the HTTP server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// SignalContext derives the context cancelled on shutdown signals.
	// Default: signal.NotifyContext for SIGINT and SIGTERM
	SignalContext func(ctx context.Context) (context.Context, context.CancelFunc)
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.PoolFactory == nil {
		out.PoolFactory = func(ctx context.Context, url string) (DBPool, error) {
			pool, err := pgxpool.New(ctx, url)
			if err != nil {
				return nil, err
			}
			return pool, nil
		}
	}
	if out.ListenerFactory == nil {
		out.ListenerFactory = func(url string, logger *slog.Logger) policy.Listener {
			return store.NewPgListener(store.PgDialer(url), logger)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, ready, logger)
		}
	}
	if out.SignalContext == nil {
		out.SignalContext = func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		}
	}
	return &out
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return newServeCmd(nil)
}

func newServeCmd(deps *ServeDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve access decisions",
		Long: `Load policies into a hot-reloading cache and serve the decision API,
Prometheus metrics and health probes until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, deps.withDefaults())
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, deps *ServeDeps) error {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.Setup(logging.Options{
		Service: "rowguard",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   level,
	})

	ctx, stop := deps.SignalContext(ctx)
	defer stop()

	logger.Info("starting rowguard",
		"policy_source", cfg.Policy.Source,
		"audit_mode", cfg.Audit.Mode,
		"metrics_addr", cfg.Metrics.Addr,
	)

	var pool DBPool
	if cfg.Policy.Source == config.SourcePostgres || cfg.Audit.Writer == config.WriterPostgres {
		pool, err = deps.PoolFactory(ctx, cfg.Database.URL)
		if err != nil {
			return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
		}
		defer pool.Close()
		logger.Info("connected to database")
	}

	compiler := policy.NewCompiler()
	source, err := policySource(ctx, cfg, pool, compiler, logger)
	if err != nil {
		return err
	}

	cache := policy.NewCache(source, compiler,
		policy.WithStalenessThreshold(cfg.Policy.Staleness),
		policy.WithLastUpdateGauge(policy.CacheLastUpdate),
		policy.WithCacheLogger(logger),
	)
	if err := cache.Reload(ctx); err != nil {
		return oops.Code("POLICY_LOAD_FAILED").With("source", cfg.Policy.Source).Wrap(err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		cache.Wait()
	}()

	switch {
	case cfg.Policy.Source == config.SourcePostgres:
		if err := cache.StartWithListener(runCtx, deps.ListenerFactory(cfg.Database.URL, logger)); err != nil {
			return err
		}
	case cfg.Policy.PollInterval > 0:
		cache.StartPolling(runCtx, cfg.Policy.PollInterval)
	}

	auditor, closeAudit, err := newAuditor(runCtx, cfg, pool, logger)
	if err != nil {
		return err
	}
	defer closeAudit()

	opts := []policy.EngineOption{policy.WithBudget(cfg.Budget()), policy.WithLogger(logger)}
	if auditor != nil {
		opts = append(opts, policy.WithAuditor(auditor))
	}
	engine := policy.NewEngine(cache, opts...)

	if cfg.Metrics.Addr == "" {
		logger.Warn("metrics.addr is empty; decision API and probes are disabled")
		<-runCtx.Done()
		return nil
	}

	obs := deps.ObservabilityServerFactory(cfg.Metrics.Addr, func() bool { return !cache.IsStale() }, logger)
	policy.RegisterCacheMetrics(obs.Registry())
	obs.Metrics().BuildInfo.WithLabelValues(version).Set(1)
	obs.Handle("/v1/", decisionapi.NewHandler(engine, logger))

	obsErr, err := obs.Start()
	if err != nil {
		return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := obs.Stop(shutdownCtx); err != nil {
			logger.Warn("failed to stop observability server", "error", err)
		}
	}()

	select {
	case <-runCtx.Done():
		logger.Info("shutting down")
		return nil
	case err, ok := <-obsErr:
		if ok && err != nil {
			return oops.Code("OBSERVABILITY_FAILED").Wrap(err)
		}
		return nil
	}
}

// policySource picks where the cache loads documents from. With the
// postgres source a readable policy file seeds an empty store.
func policySource(ctx context.Context, cfg *config.Config, pool DBPool, compiler *policy.Compiler, logger *slog.Logger) (policy.Source, error) {
	if cfg.Policy.Source != config.SourcePostgres {
		return policy.FileSource{Path: cfg.Policy.File}, nil
	}

	docs := store.NewPostgresStore(pool)
	seed, err := os.ReadFile(cfg.Policy.File)
	switch {
	case err == nil:
		if err := policy.Bootstrap(ctx, docs, compiler, seed, logger); err != nil {
			return nil, err
		}
	case errors.Is(err, fs.ErrNotExist):
		logger.Debug("no seed policy document", "path", cfg.Policy.File)
	default:
		return nil, oops.Code("POLICY_LOAD_FAILED").With("path", cfg.Policy.File).Wrap(err)
	}
	return policy.StoreSource{Store: docs}, nil
}

// newAuditor builds the audit logger for cfg. It returns a nil auditor
// when auditing is off.
func newAuditor(ctx context.Context, cfg *config.Config, pool DBPool, logger *slog.Logger) (*audit.Logger, func(), error) {
	mode, err := audit.ParseMode(cfg.Audit.Mode)
	if err != nil {
		return nil, nil, err
	}
	if mode == audit.ModeOff {
		return nil, func() {}, nil
	}

	var (
		writer audit.Writer
		worker *audit.RetentionWorker
	)
	if cfg.Audit.Writer == config.WriterPostgres {
		pw := audit.NewPostgresWriter(pool)
		worker = audit.NewRetentionWorker(audit.DefaultRetentionConfig(), pw, logger)
		worker.Start(ctx)
		writer = pw
	} else {
		writer = audit.NewSlogWriter(logger)
	}

	opts := []audit.Option{audit.WithLogger(logger)}
	if cfg.Audit.WALPath != "" {
		opts = append(opts, audit.WithWAL(cfg.Audit.WALPath))
	}
	l := audit.NewLogger(mode, writer, opts...)

	if cfg.Audit.WALPath != "" {
		n, err := l.ReplayWAL(ctx)
		if err != nil {
			logger.Warn("audit WAL replay failed", "error", err)
		} else if n > 0 {
			logger.Info("audit WAL replayed", "entries", n)
		}
	}

	closeFn := func() {
		if worker != nil {
			worker.Stop()
		}
		if err := l.Close(); err != nil {
			logger.Warn("failed to close audit logger", "error", err)
		}
	}
	return l, closeFn, nil
}
