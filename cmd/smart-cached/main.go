package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/elsanchez/smart-cache/internal/config"
	"github.com/elsanchez/smart-cache/internal/daemon"
	"github.com/elsanchez/smart-cache/internal/domain"
	"github.com/elsanchez/smart-cache/internal/downloader"
	"github.com/elsanchez/smart-cache/internal/logging"
)

const (
	version = "0.1.0"

	shutdownTimeout = 10 * time.Second
)

var (
	configPath string
	dataDir    string
	logLevel   string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:     "smart-cached",
	Short:   "Offline media cache daemon",
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file (default: $XDG_CONFIG_HOME/smart-cache/config.yaml)")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", "", "Override data directory")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "Shortcut for --log-level debug")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if debug {
		cfg.LogLevel = "debug"
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogPretty); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log.Info().Str("version", version).Msg("smart-cached starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Almacenamiento
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer store.Close()
	log.Info().Str("backend", cfg.Storage.Backend).Str("data_dir", cfg.DataDir).Msg("✓ Storage initialized")

	// Firmado de URLs
	sgn, err := newSigner(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init signer: %w", err)
	}
	log.Info().Str("mode", cfg.Signer.Mode).Msg("✓ Signer initialized")

	httpClient, err := downloader.NewHTTPClient(downloader.HTTPClientConfig{
		UserAgent:   cfg.Transfer.UserAgent,
		IdleTimeout: cfg.Transfer.IdleTimeout,
		ProxyURL:    cfg.Transfer.ProxyURL,
	})
	if err != nil {
		return fmt.Errorf("init http client: %w", err)
	}
	executor := downloader.NewHTTPExecutor(store, sgn, httpClient, downloader.ExecutorConfig{
		CheckpointInterval: cfg.Transfer.CheckpointInterval,
		ReadBuffer:         cfg.Transfer.ReadBuffer,
		RateLimit:          cfg.Transfer.RateLimit,
	})

	queue := daemon.NewQueueManager(store, executor, daemon.WithOnChange(logChange))
	if err := queue.Init(ctx); err != nil {
		return fmt.Errorf("init queue: %w", err)
	}
	defer queue.Stop()
	log.Info().Int("recovered", queue.Stats().Tracked).Msg("✓ Queue manager started")

	server := daemon.NewServer(cfg.SocketPath, daemon.NewHandlers(queue))
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	defer server.Stop()

	media := daemon.NewMediaServer(cfg.Media.Listen, queue)
	if err := media.Start(); err != nil {
		return fmt.Errorf("start media server: %w", err)
	}

	log.Info().Str("socket", cfg.SocketPath).Str("media", cfg.Media.Listen).Msg("smart-cached is ready")

	<-ctx.Done()
	log.Info().Msg("Shutting down gracefully...")

	// Orden: media, socket (defer), cola (defer), store (defer)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := media.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Media server shutdown")
	}

	return nil
}

func logChange(rec domain.DownloadRecord) {
	ev := log.Debug()
	if rec.Status == domain.StatusError || rec.Status == domain.StatusCompleted {
		ev = log.Info()
	}
	ev.Str("op", "daemon/queue").
		Str("asset", rec.Asset.ID).
		Str("status", string(rec.Status)).
		Int("progress", rec.ProgressPercent).
		Str("error", rec.ErrorMessage).
		Msg("Download changed")
}
