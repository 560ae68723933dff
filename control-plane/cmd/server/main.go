// Command server runs the self-healing monitoring control plane.
//
// # Usage
//
//	server --config /etc/selfheal/selfheal.yaml --listen :8080
//
// # Configuration
//
// The server can be configured via:
// - Command-line flags
// - Environment variables (SELFHEAL_*)
// - A YAML config file (see package config)
//
// Without an oracle URL the built-in simulated oracle is used. Redis and
// Postgres are optional; each is enabled by setting its URL.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pilot-net/selfheal/control-plane/internal/api"
	"github.com/pilot-net/selfheal/control-plane/internal/cache"
	"github.com/pilot-net/selfheal/control-plane/internal/config"
	"github.com/pilot-net/selfheal/control-plane/internal/engine"
	"github.com/pilot-net/selfheal/control-plane/internal/executor"
	"github.com/pilot-net/selfheal/control-plane/internal/metrics"
	"github.com/pilot-net/selfheal/control-plane/internal/oracle"
	"github.com/pilot-net/selfheal/control-plane/internal/secrets"
	"github.com/pilot-net/selfheal/control-plane/internal/store"
	"github.com/pilot-net/selfheal/control-plane/internal/stream"
	"github.com/pilot-net/selfheal/db/migrate"
	"github.com/pilot-net/selfheal/pkg/types"
)

var version = "v0.1.0"

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		listen      = flag.String("listen", "", "HTTP listen address (overrides config)")
		oracleURL   = flag.String("oracle-url", "", "Diagnostic oracle base URL (overrides config)")
		simulate    = flag.Bool("simulate", false, "Use the built-in simulated oracle even if a URL is configured")
		debug       = flag.Bool("debug", false, "Enable debug logging")
		showVersion = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("selfheal-server", version)
		os.Exit(0)
	}

	// Set up logging
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *oracleURL != "" {
		cfg.Oracle.URL = *oracleURL
	}
	if *simulate {
		cfg.Oracle.URL = ""
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orc, err := newOracle(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// Optional durable repair log
	var (
		db      *store.Store
		opts    engine.Options
		history api.RepairHistory
		dbStats metrics.PoolStatsProvider
	)
	if cfg.Database.URL != "" {
		db, err = openStore(ctx, cfg.Database.URL, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		opts.Sink = db
		history = db
		dbStats = db
	}

	// Optional Redis snapshot publisher
	var (
		snapshots  *cache.Cache
		cacheStats metrics.CacheStatsProvider
	)
	if cfg.Redis.URL != "" {
		snapshots, err = cache.New(cfg.Redis.URL, config.CacheSnapshotTTL, logger)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer snapshots.Close()
		cacheStats = snapshots
		logger.Info("publishing snapshots to redis", "key", cache.SnapshotKey, "channel", cache.EventsChannel)
	}

	prom := metrics.NewMetrics()
	opts.Recorder = prom

	exec := executor.New(executor.Config{
		Duration:    cfg.Engine.RepairDuration,
		SuccessRate: cfg.Engine.RepairSuccessRate,
	}, logger)

	eng := engine.New(engine.Config{
		DiagnosisInterval:  cfg.Engine.DiagnosisInterval,
		PredictionInterval: cfg.Engine.PredictionInterval,
		StaggerInterval:    cfg.Engine.StaggerInterval,
		AuditCapacity:      cfg.Engine.AuditCapacity,
		Monitoring:         cfg.Engine.Monitoring,
		AutoRepair:         cfg.Engine.AutoRepair,
		AutoPrevent:        cfg.Engine.AutoPrevent,
	}, cfg.Roster(), orc, exec, opts, logger)

	hub := stream.NewHub(config.StreamKeepalive, logger)
	go hub.Run(ctx)

	publish := func(snap engine.Snapshot) {
		prom.ObserveState(metrics.StateGauges{
			SystemHealth:   snap.SystemHealth,
			OpenIssues:     len(snap.Issues),
			PendingActions: countPending(snap),
			RepairInFlight: snap.RepairInFlight != "",
			SuccessRate:    snap.SuccessRate,
			Alerts:         snap.Alerts,
		})
		if err := hub.Publish(snap); err != nil {
			logger.Warn("failed to publish snapshot to stream", "error", err)
		}
		if snapshots != nil {
			pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			snapshots.Publish(pubCtx, snap)
			cancel()
		}
	}
	publish(eng.Snapshot())
	go eng.Watch(ctx, config.SnapshotMinGap, publish)

	eng.Start(ctx)

	apiServer := api.NewServer(eng, api.Options{
		Collector: metrics.NewCollector(eng, dbStats, cacheStats),
		History:   history,
		Stream:    hub,
		Metrics:   prom.Handler(),
	}, logger)

	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           apiServer,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.Server.Listen, "version", version)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutting down")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.Error("engine shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// newOracle returns the HTTP oracle client, or the simulated oracle when
// no URL is configured.
func newOracle(ctx context.Context, cfg *config.Config, logger *slog.Logger) (oracle.Oracle, error) {
	if cfg.Oracle.URL == "" {
		logger.Info("no oracle URL configured, using simulated oracle")
		return oracle.NewSimulated(), nil
	}

	tokens, err := secrets.New(cfg.Secrets, logger)
	if err != nil {
		return nil, fmt.Errorf("configuring secrets: %w", err)
	}
	token, err := tokens.Token(ctx)
	switch {
	case errors.Is(err, secrets.ErrNotFound):
		logger.Warn("no oracle token found, calling oracle unauthenticated", "error", err)
	case err != nil:
		return nil, fmt.Errorf("resolving oracle token: %w", err)
	}

	logger.Info("using oracle", "url", cfg.Oracle.URL, "rate_limit", cfg.Oracle.RateLimit)
	return oracle.NewClient(oracle.Config{
		BaseURL:   cfg.Oracle.URL,
		AuthToken: token,
		Timeout:   cfg.Oracle.Timeout,
		RateLimit: cfg.Oracle.RateLimit,
	}, logger), nil
}

// openStore connects to Postgres and brings the schema up to date.
func openStore(ctx context.Context, url string, logger *slog.Logger) (*store.Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, config.MigrationTimeout)
	defer cancel()

	db, err := store.NewStoreFromURL(connectCtx, url)
	if err != nil {
		return nil, err
	}

	pingCtx, pingCancel := context.WithTimeout(connectCtx, config.DatabasePingTimeout)
	defer pingCancel()
	if err := db.Ping(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	if err := migrate.Run(connectCtx, db.Pool(), logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	logger.Info("connected to database")
	return db, nil
}

func countPending(snap engine.Snapshot) int {
	n := 0
	for _, a := range snap.Actions {
		if a.Status == types.ActionPending {
			n++
		}
	}
	return n
}
