package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iRazvan2745/Storm/internal/alert"
	"github.com/iRazvan2745/Storm/internal/api"
	"github.com/iRazvan2745/Storm/internal/cache"
	"github.com/iRazvan2745/Storm/internal/metrics"
	"github.com/iRazvan2745/Storm/internal/registry"
	"github.com/iRazvan2745/Storm/internal/results"
	"github.com/iRazvan2745/Storm/internal/targets"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	port          int
	apiKey        string
	webhookURL    string
	dataDir       string
	retentionDays int
	logLevel      string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	// A .env file is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := &config{}

	root := &cobra.Command{
		Use:   "storm-coordinator",
		Short: "Storm coordinator — uptime monitoring control plane",
		Long: `The Storm coordinator holds the authoritative target configuration,
tracks agent liveness, ingests check results from agents, and serves
the aggregated uptime and latency API consumed by the dashboard.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().IntVar(&cfg.port, "port", envIntOrDefault("SERVER_PORT", 3000), "HTTP listen port")
	root.PersistentFlags().StringVar(&cfg.apiKey, "api-key", envOrDefault("API_KEY", ""), "Shared secret required on write endpoints (required)")
	root.PersistentFlags().StringVar(&cfg.webhookURL, "discord-webhook", envOrDefault("DISCORD_WEBHOOK", ""), "Webhook URL for status-transition alerts (optional)")
	root.PersistentFlags().StringVar(&cfg.dataDir, "data-dir", envOrDefault("DATA_DIR", "data"), "Directory for targets.json and the persisted state")
	root.PersistentFlags().IntVar(&cfg.retentionDays, "retention-days", envIntOrDefault("RETENTION_DAYS", 400), "Days of daily records to keep")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("storm-coordinator %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.apiKey == "" {
		return fmt.Errorf("api key is required — set --api-key or API_KEY")
	}

	serverID := uuid.NewString()
	logger.Info("starting storm coordinator",
		zap.String("version", version),
		zap.String("server_id", serverID),
		zap.Int("port", cfg.port),
		zap.String("data_dir", cfg.dataDir),
		zap.Int("retention_days", cfg.retentionDays),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Target configuration: load what is there, then watch for edits.
	// A missing or broken file means an empty target set, never a crash.
	mgr := targets.NewManager(filepath.Join(cfg.dataDir, "config", "targets.json"), logger)
	if err := mgr.Load(); err != nil {
		logger.Warn("target config not loaded, starting with empty set", zap.Error(err))
	}
	if err := mgr.Watch(ctx); err != nil {
		return fmt.Errorf("failed to watch target config: %w", err)
	}

	reg, err := registry.Load(filepath.Join(cfg.dataDir, "db", "agents.json"), logger)
	if err != nil {
		return fmt.Errorf("failed to load agent registry: %w", err)
	}

	sink := alert.NewSink(cfg.webhookURL, logger)

	engine, err := results.Open(filepath.Join(cfg.dataDir, "db", "results.json"), results.DefaultMinAgents, mgr, sink, logger)
	if err != nil {
		return fmt.Errorf("failed to open results store: %w", err)
	}

	cron, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if _, err := cron.NewJob(
		gocron.DurationJob(registry.SweepInterval),
		gocron.NewTask(func() {
			if n := reg.Sweep(); n > 0 {
				logger.Info("marked stale agents offline", zap.Int("count", n))
			}
			metrics.AgentsOnline.Set(float64(reg.OnlineCount()))
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("failed to schedule liveness sweep: %w", err)
	}
	if _, err := cron.NewJob(
		gocron.DurationJob(results.PruneInterval),
		gocron.NewTask(func() {
			if n := engine.Prune(cfg.retentionDays); n > 0 {
				logger.Info("pruned expired daily records", zap.Int("records", n))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("failed to schedule retention prune: %w", err)
	}
	cron.Start()

	router := api.NewRouter(api.RouterConfig{
		Targets:  mgr,
		Registry: reg,
		Engine:   engine,
		Cache:    cache.New(cache.DefaultTTL),
		Logger:   logger,
		APIKey:   cfg.apiKey,
		ServerID: serverID,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down storm coordinator")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := cron.Shutdown(); err != nil {
		logger.Warn("scheduler shutdown", zap.Error(err))
	}
	if err := engine.Flush(); err != nil {
		logger.Error("final state flush failed", zap.Error(err))
		return err
	}
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}
