package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/bodul/wordgrid/internal/generation"
	"github.com/bodul/wordgrid/internal/grid"
)

var (
	configPath string
	addrFlag   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "wordgrid",
	Short: "Shared word grid server",
	Long: `wordgrid runs the authority for a shared 100x100 word grid.
Clients connect over a websocket, claim cells with words and ask for an
image to be generated from everything written so far.`,
	SilenceUsage: true,
	RunE:         runServer,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "wordgrid.yaml", "path to the config file")
	rootCmd.Flags().StringVar(&addrFlag, "addr", "", "listen address (overrides config)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	if addrFlag != "" {
		cfg.Addr = addrFlag
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := newLogger(cfg.Logging, verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("store ready", zap.String("driver", cfg.Store.Driver))

	if err := os.MkdirAll(cfg.Generation.ImagesDir, 0755); err != nil {
		return fmt.Errorf("create images dir: %w", err)
	}

	// Left as a nil interface when unconfigured so the pipeline reports
	// generation as disabled.
	var generator generation.ImageGenerator
	if cfg.Generation.ProjectID != "" {
		gemini, err := NewGeminiClient(ctx, cfg.Generation, logger.Named("gemini"))
		if err != nil {
			return fmt.Errorf("failed to initialise gemini: %w", err)
		}
		defer gemini.Close()
		generator = gemini
		logger.Info("image generation enabled",
			zap.String("project", cfg.Generation.ProjectID),
			zap.String("region", cfg.Generation.Region))
	} else {
		logger.Warn("GCP_PROJECT_ID not set, image generation disabled")
	}

	srv := NewServer(cfg, store, generator, logger)
	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", cfg.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return httpSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	srv.Shutdown()
	return err
}

func newLogger(cfg LoggingConfig, verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func openStore(cfg StoreConfig) (grid.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
		return grid.OpenSQLite(cfg.Path)
	default:
		return grid.NewMemoryStore(), nil
	}
}
