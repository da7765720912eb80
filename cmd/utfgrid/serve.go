package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"utfgrid/internal/cache"
	"utfgrid/internal/config"
	httphandlers "utfgrid/internal/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve grid tiles from DATA_DIR",
	Long:  `Serves DATA_DIR/{z}/{x}/{y}.grid.json as /tiles/{z}/{x}/{y}.grid.json, as plain JSON or wrapped in a callback.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log := setup()
	defer log.Sync()

	log.Info("Starting grid tile server",
		zap.Int("port", cfg.Port),
		zap.String("data_dir", cfg.DataDir),
	)

	store, err := cache.NewStore(cfg.CacheType, cfg.CacheFileDir, cfg.CacheMaxTiles, log)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	if c, ok := store.(interface{ Close() }); ok {
		defer c.Close()
	}

	handlers := httphandlers.New(cfg, log, store)

	startWarmup(cfg, handlers, log)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handlers.Routes(),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.Int("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server stopped")
	return nil
}

// startWarmup decodes the low zoom levels in the background. WARMUP_LEVELS=0
// turns it off. The returned channel is closed once warmup is over.
func startWarmup(cfg *config.Config, handlers *httphandlers.Handlers, log *zap.Logger) <-chan struct{} {
	done := make(chan struct{})
	if cfg.WarmupLevels <= 0 {
		close(done)
		return done
	}

	go func() {
		defer close(done)
		start := time.Now()
		n := handlers.Warmup(cfg.WarmupLevels, cfg.WarmupWorkers)
		log.Info("Tile warmup completed",
			zap.Int("levels", cfg.WarmupLevels),
			zap.Int("tiles", n),
			zap.Duration("took", time.Since(start)),
		)
	}()
	return done
}
