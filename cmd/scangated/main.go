// Command scangated serves the scan admission engine: quota-gated AI scan
// requests, tenant quota status, and the alert feed over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	"github.com/clinicware/scangate"
	"github.com/clinicware/scangate/alert"
	"github.com/clinicware/scangate/cache"
	cacheredis "github.com/clinicware/scangate/cache/redis"
	"github.com/clinicware/scangate/httpapi"
	"github.com/clinicware/scangate/ledger"
	ledgerpg "github.com/clinicware/scangate/ledger/postgres"
	ledgerredis "github.com/clinicware/scangate/ledger/redis"
	"github.com/clinicware/scangate/meter"
	"github.com/clinicware/scangate/provider/gateway"
	"github.com/clinicware/scangate/provider/mock"
	"github.com/clinicware/scangate/sched"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := scangate.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger.Info("configuration loaded", "backend", cfg.Storage.Backend, "tenants", len(cfg.Tenants))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lg, resultCache, cleanup, err := buildStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	// Provision configured tenants. Existing accounts keep their usage.
	prov, ok := lg.(scangate.Provisioner)
	if !ok {
		return fmt.Errorf("ledger backend %q cannot provision accounts", cfg.Storage.Backend)
	}
	now := time.Now()
	for _, t := range cfg.Tenants {
		if err := prov.SetAccount(ctx, cfg.Account(t, now)); err != nil {
			return fmt.Errorf("provision tenant %s: %w", t.TenantID, err)
		}
	}

	var prv scangate.Provider
	if cfg.Provider.URL != "" {
		client := &http.Client{Timeout: cfg.Provider.Timeout}
		prv = gateway.New(cfg.Provider.URL, cfg.Provider.APIKey, gateway.WithHTTPClient(client))
	} else {
		logger.Warn("no provider configured, using the mock provider")
		prv = mock.New()
	}

	alerts := alert.NewManager(alert.WithNotifier(alert.LogNotifier(logger)))
	recorder := scangate.NewMemoryUsageLog()
	health := scangate.NewHealthTracker()
	meters := meter.Multi{meter.NewPromMeter(nil), meter.NewLogMeter(logger), health}

	ctrl, err := scangate.NewController(lg, prv,
		scangate.WithCache(resultCache),
		scangate.WithRecorder(recorder),
		scangate.WithAlerts(alerts),
		scangate.WithMeter(meters),
		scangate.WithFingerprintWindow(cfg.FingerprintWindow),
		scangate.WithCacheTTL(cfg.CacheTTL),
		scangate.WithInferenceTimeout(cfg.InferenceTimeout),
		scangate.WithFailOpen(cfg.FailOpen),
	)
	if err != nil {
		return err
	}

	forecastOpts := scangate.ForecastOptions{WindowDays: cfg.ForecastWindowDays}

	var scheduler *sched.Scheduler
	if lister, ok := lg.(scangate.Lister); ok {
		scheduler = sched.New(lg, lister,
			sched.WithRecorder(recorder),
			sched.WithAlerts(alerts),
			sched.WithForecastOptions(forecastOpts),
			sched.WithLogger(logger),
		)
		if err := scheduler.Start(); err != nil {
			return err
		}
		defer scheduler.Stop()
	} else {
		logger.Warn("ledger backend cannot list accounts, cycle resets are lazy only")
	}

	api := httpapi.New(ctrl, lg)
	api.Recorder = recorder
	api.Alerts = alerts
	api.Plans = cfg.Plans
	api.Forecast = forecastOpts
	api.Health = health
	if sr, ok := resultCache.(scangate.StatsReporter); ok {
		api.CacheStats = sr
	}
	api.Metrics = meter.Handler()
	api.Logger = logger

	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: api.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	ctrl.Wait()

	logger.Info("shutdown complete")
	return nil
}

// buildStorage wires the ledger and result cache for the configured backend.
// The returned cleanup closes client connections and stops sweepers.
func buildStorage(ctx context.Context, cfg scangate.Config) (scangate.Ledger, scangate.ResultCache, func(), error) {
	switch cfg.Storage.Backend {
	case "memory":
		mc := cache.NewMemory()
		mc.StartSweeper(time.Minute)
		return ledger.NewMemory(), mc, mc.Stop, nil

	case "redis":
		opt, err := goredis.ParseURL(cfg.Storage.RedisURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := goredis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		cleanup := func() { client.Close() }
		return ledgerredis.New(client), cacheredis.New(client), cleanup, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Storage.PostgresURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("postgres connect: %w", err)
		}
		store := ledgerpg.New(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("postgres schema: %w", err)
		}
		// Results cache stays in memory: entries are ephemeral and cheap
		// to refill, only the ledger needs durability.
		mc := cache.NewMemory()
		mc.StartSweeper(time.Minute)
		cleanup := func() {
			mc.Stop()
			pool.Close()
		}
		return store, mc, cleanup, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
