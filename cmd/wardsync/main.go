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

	"github.com/heptiolabs/healthcheck"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"wardsync/internal/api"
	"wardsync/internal/config"
	"wardsync/internal/coordinator"
	"wardsync/internal/logger"
	"wardsync/internal/notify"
	"wardsync/internal/oplog"
	"wardsync/internal/verify"
)

func main() {
	configPath := flag.String("config", os.Getenv("WARDSYNC_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// The configured logger does not exist yet.
		fallback, _ := zap.NewProduction()
		fallback.Sugar().Fatalf("load configuration: %s", err)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	zap.ReplaceGlobals(log)
	defer func() {
		_ = log.Sync()
	}()

	zap.S().Infow("starting wardsync coordinator",
		"node_id", cfg.NodeID,
		"storage", cfg.Storage.Driver,
		"mqtt", cfg.MQTT.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		zap.S().Fatalf("open operation store: %s", err)
	}
	defer store.Close()

	notifier := buildNotifier(cfg)
	defer notifier.Close()

	coord, err := coordinator.New(cfg.CoordinatorConfig(), store, notifier, verify.AcceptAll())
	if err != nil {
		zap.S().Fatalf("build coordinator: %s", err)
	}

	startHealth(cfg.HealthAddr, store)
	startMetrics(cfg.MetricsAddr)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewServer(coord, store, cfg.MaxBatchSize).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zap.S().Infof("sync API listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.S().Fatalf("sync API: %s", err)
		}
	}()

	<-ctx.Done()
	zap.S().Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.S().Errorf("shutdown sync API: %s", err)
	}
}

// openStore builds the configured operation-log backend. The postgres
// driver connects eagerly and creates its schema so a bad URL fails at
// startup instead of on the first batch.
func openStore(ctx context.Context, cfg config.Config) (oplog.Store, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		poolCfg, err := pgxpool.ParseConfig(cfg.Storage.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("parse postgres url: %w", err)
		}
		if cfg.Storage.MaxConns > 0 {
			poolCfg.MaxConns = cfg.Storage.MaxConns
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		store := oplog.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		return store, nil
	default:
		return oplog.NewMemoryStore(), nil
	}
}

func buildNotifier(cfg config.Config) notify.Notifier {
	if !cfg.MQTT.Enabled {
		return notify.NewHub()
	}
	notifier, err := notify.NewMQTTNotifier(cfg.MQTTConfig())
	if err != nil {
		zap.S().Fatalf("connect change notifier: %s", err)
	}
	return notifier
}

func startHealth(addr string, store oplog.Store) {
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))
	health.AddReadinessCheck("storage", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return store.Ping(ctx)
	})
	go func() {
		if err := http.ListenAndServe(addr, health); err != nil {
			zap.S().Errorf("healthcheck listener: %s", err)
		}
	}()
}

func startMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			zap.S().Errorf("metrics listener: %s", err)
		}
	}()
}
