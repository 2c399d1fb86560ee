package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"inferd/internal/capability"
	"inferd/internal/config"
	"inferd/internal/dispatch"
	"inferd/internal/httpapi"
	"inferd/internal/metrics"
	"inferd/internal/registry"
	"inferd/internal/service"
)

// version is stamped at build time via -ldflags.
var version = "1.0.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath     string
		addr           string
		defaultModel   string
		maxBatchSize   int
		batchTimeoutMS int
		logLevel       string
	)
	cmd := &cobra.Command{
		Use:           "inferd",
		Short:         "Model serving daemon with batched inference",
		Long:          "inferd serves versioned models behind an HTTP API, batching concurrent requests per model with bounded latency.",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			// .env is optional; real environment still applies without it.
			_ = godotenv.Load()

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			// Flags explicitly set on the command line win over file and env.
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("default-model") {
				cfg.DefaultModel = defaultModel
			}
			if cmd.Flags().Changed("max-batch-size") {
				cfg.MaxBatchSize = maxBatchSize
			}
			if cmd.Flags().Changed("batch-timeout-ms") {
				cfg.BatchTimeoutMS = batchTimeoutMS
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (.yaml/.json/.toml)")
	cmd.Flags().StringVar(&addr, "addr", ":8000", "HTTP listen address, e.g. :8000")
	cmd.Flags().StringVar(&defaultModel, "default-model", "summarizer", "Default model name when a request omits one")
	cmd.Flags().IntVar(&maxBatchSize, "max-batch-size", 8, "Maximum requests per dispatch batch")
	cmd.Flags().IntVar(&batchTimeoutMS, "batch-timeout-ms", 100, "Batch window timeout in milliseconds (0 disables batching)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	return cmd
}

func run(cfg config.Config) error {
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()

	cat, err := cfg.Catalog()
	if err != nil {
		return fmt.Errorf("build catalog: %w", err)
	}
	agg := metrics.NewAggregator()
	loader := registry.NewLoader(capability.Builtin, time.Duration(cfg.LoadWarmupMS)*time.Millisecond, logger)
	reg := registry.New(cat, loader, agg, logger)
	disp := dispatch.New(reg, agg, dispatch.Config{
		MaxBatchSize:  cfg.MaxBatchSize,
		BatchTimeout:  time.Duration(cfg.BatchTimeoutMS) * time.Millisecond,
		MaxQueueDepth: cfg.MaxQueueDepth,
	}, logger)
	svc := service.New(cat, reg, disp, agg, service.Options{
		DefaultModel:   cfg.DefaultModel,
		DefaultVersion: cfg.DefaultVersion,
		Version:        version,
		PreloadDefault: cfg.PreloadDefault,
	}, logger)

	baseCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	httpapi.SetBaseContext(baseCtx)
	httpapi.SetLogger(logger)
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins,
		[]string{http.MethodGet, http.MethodPost, http.MethodOptions},
		[]string{"Accept", "Content-Type", "X-Log-Level"})

	svc.Start(baseCtx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Int("models", cat.Len()).Msg("inferd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown not clean")
	}
	// Drain in-flight batches, then release every loaded model.
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("dispatcher drain not clean")
	}
	cancel()
	return nil
}
