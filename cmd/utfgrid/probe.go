package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/paulmach/orb"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"utfgrid/internal/cache"
	"utfgrid/internal/layer"
	"utfgrid/internal/mapview"
)

var (
	probeLat     float64
	probeLng     float64
	probeZoom    int
	probeWidth   int
	probeHeight  int
	probeTimeout time.Duration
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Print the feature under a coordinate",
	Long: `Attaches a grid layer for TILE_URL to a headless map centred on the coordinate,
waits for the visible tiles and prints the feature found there as JSON.`,
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().Float64Var(&probeLat, "lat", 0, "Latitude")
	probeCmd.Flags().Float64Var(&probeLng, "lng", 0, "Longitude")
	probeCmd.Flags().IntVarP(&probeZoom, "zoom", "z", 0, "Zoom level")
	probeCmd.Flags().IntVar(&probeWidth, "width", 512, "Viewport width in pixels")
	probeCmd.Flags().IntVar(&probeHeight, "height", 512, "Viewport height in pixels")
	probeCmd.Flags().DurationVarP(&probeTimeout, "timeout", "t", 15*time.Second, "How long to wait for tiles")
	probeCmd.MarkFlagRequired("lat")
	probeCmd.MarkFlagRequired("lng")
	probeCmd.MarkFlagRequired("zoom")
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, log := setup()
	defer log.Sync()

	ll := orb.Point{probeLng, probeLat}
	opts := cfg.LayerOptions()

	l, err := layer.New(layer.Config{
		URL:     cfg.TileURL,
		Options: opts,
		Client:  &http.Client{Timeout: cfg.FetchTimeout},
		// Kept apart from the tiles a server caches in the same directory.
		NewStore: func() (cache.Store, error) {
			return cache.NewStore(cfg.CacheType, probeCacheDir(cfg.CacheFileDir), cfg.CacheMaxTiles, log)
		},
	}, log)
	if err != nil {
		return err
	}

	m := mapview.NewStatic(ll, probeZoom, probeWidth, probeHeight, opts.TileSize)
	if err := l.Attach(m); err != nil {
		return err
	}
	defer l.Detach()

	tiles := l.Cache()
	done := make(chan struct{})
	go func() {
		tiles.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(probeTimeout):
		log.Warn("Timed out waiting for tiles", zap.Duration("timeout", probeTimeout))
	}

	stats := tiles.Stats()
	log.Debug("Probe tile stats",
		zap.Int64("fetches", stats.Fetches),
		zap.Int64("failures", stats.Failures),
	)

	hit, ok := l.Resolve(ll)
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "no feature")
		return nil
	}

	out, err := json.MarshalIndent(hit, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func probeCacheDir(cacheFileDir string) string {
	return filepath.Join(cacheFileDir, "probe")
}
