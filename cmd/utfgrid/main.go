package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"utfgrid/internal/config"
	"utfgrid/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "utfgrid",
	Short: "UTFGrid tile server and interaction probe",
	Long: `Serves UTFGrid tiles from a data directory and resolves the feature under a
geographic coordinate the way an interactive map layer would.

Configuration is read from the environment (PORT, DATA_DIR, TILE_URL, ...).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, probeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() (*config.Config, *zap.Logger) {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	return cfg, log
}
