package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"utfgrid/internal/cache"
	"utfgrid/internal/config"
	"utfgrid/internal/grid"
	"utfgrid/internal/tile"
	"utfgrid/internal/transport"
)

const tileSuffix = ".grid.json"

// callbackName limits callback paths to identifiers joined by dots and slashes.
var callbackName = regexp.MustCompile(`^[A-Za-z_$][\w$]*(\.[\w$/]+)*$`)

var errTileNotFound = errors.New("tile not found")

type Handlers struct {
	config *config.Config
	logger *zap.Logger
	tiles  cache.Store
}

// New serves tiles from cfg.DataDir, keeping decoded tiles in store.
func New(cfg *config.Config, logger *zap.Logger, store cache.Store) *Handlers {
	return &Handlers{
		config: cfg,
		logger: logger,
		tiles:  store,
	}
}

// Routes returns the server's handler with CORS and request logging applied.
func (h *Handlers) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/tiles/", h.HandleTile)
	mux.HandleFunc("/healthz", h.HandleHealthz)

	return h.CORSMiddleware(h.RequestLoggingMiddleware(mux))
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		wrapped.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(wrapped, r)

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", h.extractIP(r)),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", wrapped.bytesWritten),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

func (h *Handlers) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigin := ""

		if h.config.AllowedOrigin != "" {
			allowedOrigin = h.config.AllowedOrigin
		} else {
			host := r.Host
			switch {
			case origin == "":
				allowedOrigin = "*"
			case strings.HasPrefix(origin, "http://"+host), strings.HasPrefix(origin, "https://"+host):
				allowedOrigin = origin
			}
		}

		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// HandleTile serves /tiles/{z}/{x}/{y}.grid.json. With a callback query
// parameter the JSON is wrapped as callback(json); for callback transports.
func (h *Handlers) HandleTile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c, err := parseTilePath(strings.TrimPrefix(r.URL.Path, "/tiles/"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	callback := r.URL.Query().Get("callback")
	if callback != "" && !callbackName.MatchString(callback) {
		http.Error(w, "Invalid callback", http.StatusBadRequest)
		return
	}

	t, err := h.loadTile(c)
	if errors.Is(err, errTileNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.logger.Error("Failed to load grid tile", zap.String("tile", c.Key()), zap.Error(err))
		http.Error(w, "Failed to load tile", http.StatusInternalServerError)
		return
	}

	body, err := json.Marshal(t)
	if err != nil {
		h.logger.Error("Failed to encode grid tile", zap.String("tile", c.Key()), zap.Error(err))
		http.Error(w, "Failed to encode tile", http.StatusInternalServerError)
		return
	}

	contentType := "application/json"
	if callback != "" {
		body = transport.Wrap(callback, body)
		contentType = "application/javascript"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("ETag", `"`+strconv.FormatUint(xxhash.Sum64(body), 16)+`"`)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Write(body)
}

func (h *Handlers) loadTile(c tile.Coord) (*grid.Tile, error) {
	key := c.Key()
	if t, ok := h.tiles.Get(key); ok {
		return t, nil
	}

	path := filepath.Join(h.config.DataDir, strconv.Itoa(c.Z), strconv.Itoa(c.X), strconv.Itoa(c.Y)+tileSuffix)
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errTileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	t, err := grid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	h.tiles.Set(key, t)
	return t, nil
}

// Warmup decodes the tiles stored for zoom levels 0..levels into the tile
// store and returns how many were loaded.
func (h *Handlers) Warmup(levels, workers int) int {
	if workers <= 0 {
		workers = 1
	}

	slots := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var loaded atomic.Int64

	for z := 0; z <= levels; z++ {
		paths, err := filepath.Glob(filepath.Join(h.config.DataDir, strconv.Itoa(z), "*", "*"+tileSuffix))
		if err != nil {
			h.logger.Warn("Warmup glob failed", zap.Int("z", z), zap.Error(err))
			continue
		}

		for _, path := range paths {
			rel, err := filepath.Rel(h.config.DataDir, path)
			if err != nil {
				continue
			}
			c, err := parseTilePath(filepath.ToSlash(rel))
			if err != nil {
				h.logger.Debug("Skipping unexpected file", zap.String("path", path))
				continue
			}

			wg.Add(1)
			slots <- struct{}{}

			go func(c tile.Coord) {
				defer wg.Done()
				defer func() { <-slots }()

				if _, err := h.loadTile(c); err != nil {
					h.logger.Debug("Warmup tile failed", zap.String("tile", c.Key()), zap.Error(err))
					return
				}
				loaded.Add(1)
			}(c)
		}
	}

	wg.Wait()
	return int(loaded.Load())
}

func parseTilePath(path string) (tile.Coord, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || !strings.HasSuffix(parts[2], tileSuffix) {
		return tile.Coord{}, errors.New("invalid path")
	}

	var c tile.Coord
	if _, err := fmt.Sscanf(parts[0], "%d", &c.Z); err != nil {
		return tile.Coord{}, errors.New("invalid zoom level")
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &c.X); err != nil {
		return tile.Coord{}, errors.New("invalid x coordinate")
	}
	if _, err := fmt.Sscanf(strings.TrimSuffix(parts[2], tileSuffix), "%d", &c.Y); err != nil {
		return tile.Coord{}, errors.New("invalid y coordinate")
	}

	if _, ok := c.Maptile(); !ok {
		return tile.Coord{}, errors.New("coordinates outside the world")
	}
	return c, nil
}

// Not for real production use due to potential spoofing
func (h *Handlers) extractIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-Ip")
	if ip != "" {
		return strings.Split(ip, ":")[0]
	}

	addr := r.RemoteAddr
	if addr != "" {
		return strings.Split(addr, ":")[0]
	}

	return "unknown"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
