package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iRazvan2745/Storm/internal/agent"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	// A .env file is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := agent.FromEnv()
	logLevel := envOrDefault("LOG_LEVEL", "info")

	root := &cobra.Command{
		Use:   "storm-agent",
		Short: "Storm agent — distributed uptime probe worker",
		Long: `The Storm agent registers with a coordinator, pulls its target list,
probes each target on its own interval, and reports the results back.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg, logLevel)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.ServerURL, "server-url", cfg.ServerURL, "Coordinator base URL, e.g. http://coordinator:3000 (required)")
	root.PersistentFlags().StringVar(&cfg.APIKey, "api-key", cfg.APIKey, "Shared secret sent as x-api-key (required)")
	root.PersistentFlags().StringVar(&cfg.Name, "name", cfg.Name, "Agent name, stable across restarts (default: hostname)")
	root.PersistentFlags().StringVar(&cfg.Location, "location", cfg.Location, "Human-readable location label")
	root.PersistentFlags().StringVar(&logLevel, "log-level", logLevel, "Log level (debug, info, warn, error)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("storm-agent %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg agent.Config, logLevel string) error {
	logger, err := buildLogger(logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting storm agent",
		zap.String("version", version),
		zap.String("name", cfg.Name),
		zap.String("location", cfg.Location),
		zap.String("server_url", cfg.ServerURL),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := agent.New(cfg, logger)
	if err != nil {
		return err
	}

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("storm agent stopped")
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
