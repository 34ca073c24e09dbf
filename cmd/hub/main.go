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
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/coherence-hub/internal/auth"
	"github.com/rickgao/coherence-hub/internal/config"
	"github.com/rickgao/coherence-hub/internal/database"
	"github.com/rickgao/coherence-hub/internal/fieldlog"
	"github.com/rickgao/coherence-hub/internal/httpapi"
	"github.com/rickgao/coherence-hub/internal/hub"
	"github.com/rickgao/coherence-hub/internal/lane"
	"github.com/rickgao/coherence-hub/internal/model"
	"github.com/rickgao/coherence-hub/internal/policy"
	"github.com/rickgao/coherence-hub/internal/registry"
	"github.com/rickgao/coherence-hub/internal/version"
	"github.com/rickgao/coherence-hub/internal/writer"
)

const appName = "coherence-hub"

func main() {
	configPath := flag.String("config", "configs/hub.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "config", *configPath, "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting coherence hub",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("hub exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("hub stopped")
}

func run(cfg *config.HubConfig, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	var pool *pgxpool.Pool
	if cfg.Lanes.Driver == "postgres" {
		pg := cfg.Database.Postgres
		logger.Info("connecting to database", "host", pg.Host, "port", pg.Port, "database", pg.Name)

		var err error
		pool, err = database.Connect(ctx, pg, appName)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := database.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		logger.Info("database connected")
	}

	truth, journal, err := openLaneStores(cfg.Lanes, pool)
	if err != nil {
		return err
	}

	lanes, err := writer.NewLanes(writer.WriterConfig{
		BatchSize:     cfg.Lanes.BatchSize,
		FlushInterval: cfg.Lanes.FlushInterval,
		BufferSize:    cfg.Lanes.BufferSize,
	}, truth, journal, logger)
	if err != nil {
		truth.Close()
		journal.Close()
		return err
	}
	if err := lanes.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer stopCancel()
		if err := lanes.Stop(stopCtx); err != nil {
			logger.Error("lane shutdown failed", "error", err)
		}
	}()

	table, err := policy.TableFromConfig(cfg.Routing)
	if err != nil {
		return err
	}

	// The engine reads field context from the hub, which is built after it.
	var h *hub.Hub
	opts := []policy.Option{
		policy.WithRecorder(lanes),
		policy.WithLogger(logger),
		policy.WithDegraded(cfg.Routing.Degraded),
		policy.WithFieldSource(policy.FieldSourceFunc(func() model.FieldState {
			return h.FieldState()
		})),
	}
	if cfg.Routing.SessionTracking {
		opts = append(opts, policy.WithSessionTracking(cfg.Routing.SessionCapacity))
	}
	engine, err := policy.NewEngine(table, opts...)
	if err != nil {
		return err
	}

	reg := registry.New(registry.Config{
		DefaultCoherence: cfg.Hub.DefaultCoherence,
		DefaultChannels:  cfg.Hub.DefaultChannels,
	})
	h = hub.New(hub.ConfigFrom(cfg.Hub, cfg.Server), reg, engine, nil, logger)

	serverOpts := httpapi.Options{
		Engine:      engine,
		Hub:         h,
		Lanes:       lanes,
		MetricsPath: cfg.Metrics.Path,
		Logger:      logger,
	}
	if pool != nil {
		serverOpts.DB = pool
	}
	if cfg.Admin.PublicKeyPath != "" {
		serverOpts.Verifier, err = auth.NewVerifier(cfg.Admin.PublicKeyPath, cfg.Admin.MaxClockSkew)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("admin endpoints are unauthenticated; set admin.public_key_path to require signatures")
	}
	if cfg.RateLimit.RequestsPerSecond > 0 {
		serverOpts.Limiter = httpapi.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}
	api := httpapi.NewServer(serverOpts)

	var snapshots *fieldlog.Snapshotter
	if cfg.FieldLog.Enabled {
		sink, err := openFieldLogSink(cfg.FieldLog, pool)
		if err != nil {
			return err
		}
		snapshots = fieldlog.New(fieldlog.Config{
			InstanceID: cfg.Instance.ID,
			Interval:   cfg.FieldLog.Interval,
		}, h, sink, nil, logger)
		if err := snapshots.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer stopCancel()
			if err := snapshots.Stop(stopCtx); err != nil {
				logger.Error("field log shutdown failed", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.Run(gctx) })
	g.Go(func() error { return api.Run(gctx) })
	g.Go(func() error {
		logger.Info("http server listening", "addr", srv.Addr, "lanes", cfg.Lanes.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openLaneStores(cfg config.LanesConfig, pool *pgxpool.Pool) (truth, journal lane.Store, err error) {
	if cfg.Driver == "postgres" {
		t, err := lane.NewPGStore(pool, model.LaneTruth)
		if err != nil {
			return nil, nil, err
		}
		j, err := lane.NewPGStore(pool, model.LaneJournal)
		if err != nil {
			return nil, nil, err
		}
		return t, j, nil
	}

	t, err := lane.OpenFileStore(cfg.Dir, model.LaneTruth)
	if err != nil {
		return nil, nil, err
	}
	j, err := lane.OpenFileStore(cfg.Dir, model.LaneJournal)
	if err != nil {
		t.Close()
		return nil, nil, err
	}
	return t, j, nil
}

func openFieldLogSink(cfg config.FieldLogConfig, pool *pgxpool.Pool) (fieldlog.Sink, error) {
	if pool != nil {
		return fieldlog.NewPGSink(pool), nil
	}
	return fieldlog.OpenFileSink(cfg.Path)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
