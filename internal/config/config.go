package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"utfgrid/internal/layer"
)

type Config struct {
	Port          int
	DataDir       string
	LogLevel      string
	AllowedOrigin string
	// WarmupLevels pre-decodes zoom levels 0..WarmupLevels on serve; 0 turns warmup off.
	WarmupLevels  int
	WarmupWorkers int

	TileURL              string
	Subdomains           string
	MinZoom              int
	MaxZoom              int
	TileSize             int
	Resolution           int
	UseCallbackTransport bool
	PointerCursor        bool
	FetchWorkers         int
	FetchTimeout         time.Duration

	CacheType     string
	CacheFileDir  string
	CacheMaxTiles int
}

func Load() *Config {
	dataDir := getEnv("DATA_DIR", "/data")
	defaults := layer.DefaultOptions()

	cfg := &Config{
		Port:          getEnvInt("PORT", 8080),
		DataDir:       dataDir,
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		AllowedOrigin: getEnv("ALLOWED_ORIGIN", ""),
		WarmupLevels:  getEnvInt("WARMUP_LEVELS", 1),
		WarmupWorkers: getEnvInt("WARMUP_WORKERS", 1),

		TileURL:              getEnv("TILE_URL", "http://localhost:8080/tiles/{z}/{x}/{y}.grid.json"),
		Subdomains:           getEnv("SUBDOMAINS", defaults.Subdomains),
		MinZoom:              getEnvInt("MIN_ZOOM", defaults.MinZoom),
		MaxZoom:              getEnvInt("MAX_ZOOM", defaults.MaxZoom),
		TileSize:             getEnvInt("TILE_SIZE", defaults.TileSize),
		Resolution:           getEnvInt("RESOLUTION", defaults.Resolution),
		UseCallbackTransport: getEnvBool("USE_CALLBACK_TRANSPORT", defaults.UseCallbackTransport),
		PointerCursor:        getEnvBool("POINTER_CURSOR", defaults.PointerCursor),
		FetchWorkers:         getEnvInt("FETCH_WORKERS", defaults.FetchWorkers),
		FetchTimeout:         time.Duration(getEnvInt("FETCH_TIMEOUT_MS", 10000)) * time.Millisecond,

		CacheType:     getEnv("CACHE", "memory"),
		CacheFileDir:  getEnv("CACHE_FILE_DIR", filepath.Join(dataDir, "cache")),
		CacheMaxTiles: getEnvInt("CACHE_MAX_TILES", 2000),
	}

	return cfg
}

// LayerOptions maps the layer settings onto layer.Options.
func (c *Config) LayerOptions() layer.Options {
	return layer.Options{
		Subdomains:           c.Subdomains,
		MinZoom:              c.MinZoom,
		MaxZoom:              c.MaxZoom,
		TileSize:             c.TileSize,
		Resolution:           c.Resolution,
		UseCallbackTransport: c.UseCallbackTransport,
		PointerCursor:        c.PointerCursor,
		FetchWorkers:         c.FetchWorkers,
		FetchTimeout:         c.FetchTimeout,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
