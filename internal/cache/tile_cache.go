package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"utfgrid/internal/grid"
	"utfgrid/internal/tile"
	"utfgrid/internal/transport"
)

const DefaultFetchWorkers = 4

// TileCacheOptions tunes fetching.
type TileCacheOptions struct {
	// Workers caps concurrent fetches. Requests beyond it stay pending until a slot frees up.
	Workers int
	// Timeout bounds a single fetch. Zero leaves it to the transport.
	Timeout time.Duration
	// OnLoad is called after a tile has been stored. It runs on the fetching goroutine.
	OnLoad func(c tile.Coord)
}

// Stats is a snapshot of cache activity.
type Stats struct {
	Hits     int64
	Misses   int64
	Fetches  int64
	Failures int64
}

// TileCache serves decoded tiles synchronously and loads missing ones in
// the background, with at most one fetch in flight per tile key.
type TileCache struct {
	store     Store
	transport transport.TileTransport
	logger    *zap.Logger
	timeout   time.Duration
	onLoad    func(c tile.Coord)
	slots     chan struct{}

	mu      sync.Mutex
	pending map[string]struct{}
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	hits     atomic.Int64
	misses   atomic.Int64
	fetches  atomic.Int64
	failures atomic.Int64
}

func NewTileCache(store Store, tr transport.TileTransport, opts TileCacheOptions, logger *zap.Logger) *TileCache {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultFetchWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &TileCache{
		store:     store,
		transport: tr,
		logger:    logger,
		timeout:   opts.Timeout,
		onLoad:    opts.OnLoad,
		slots:     make(chan struct{}, workers),
		pending:   make(map[string]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Get returns the cached tile for c. On a miss it starts loading c and
// returns immediately.
func (tc *TileCache) Get(c tile.Coord) (*grid.Tile, bool) {
	if t, ok := tc.store.Get(c.Key()); ok {
		tc.hits.Add(1)
		return t, true
	}
	tc.misses.Add(1)
	tc.RequestTile(c)
	return nil, false
}

// RequestTile starts loading c unless it is already cached or in flight.
// Failures are logged and dropped; the tile stays absent.
func (tc *TileCache) RequestTile(c tile.Coord) {
	key := c.Key()

	tc.mu.Lock()
	if tc.closed {
		tc.mu.Unlock()
		return
	}
	if _, ok := tc.pending[key]; ok || tc.store.Has(key) {
		tc.mu.Unlock()
		return
	}
	tc.pending[key] = struct{}{}
	ctx := tc.ctx
	tc.wg.Add(1)
	tc.mu.Unlock()

	tc.fetches.Add(1)
	go tc.load(ctx, c, key)
}

func (tc *TileCache) load(ctx context.Context, c tile.Coord, key string) {
	defer tc.wg.Done()

	select {
	case tc.slots <- struct{}{}:
	case <-ctx.Done():
		tc.finish(key, nil)
		return
	}
	defer func() { <-tc.slots }()

	if tc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tc.timeout)
		defer cancel()
	}

	raw, err := tc.transport.Fetch(ctx, c)
	if err != nil {
		tc.failures.Add(1)
		tc.logger.Debug("Grid tile fetch failed", zap.String("tile", key), zap.Error(err))
		tc.finish(key, nil)
		return
	}

	t, err := grid.Parse(raw)
	if err != nil {
		tc.failures.Add(1)
		tc.logger.Debug("Grid tile decode failed", zap.String("tile", key), zap.Error(err))
		tc.finish(key, nil)
		return
	}

	if tc.finish(key, t) {
		tc.logger.Debug("Grid tile loaded", zap.String("tile", key), zap.Int("size", t.Size()))
		if tc.onLoad != nil {
			tc.onLoad(c)
		}
	}
}

// finish clears the pending marker and stores t when non-nil. Nothing is
// stored once the cache is closed.
func (tc *TileCache) finish(key string, t *grid.Tile) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	delete(tc.pending, key)
	if t == nil || tc.closed {
		return false
	}
	tc.store.Set(key, t)
	return true
}

// InvalidateAll drops every cached tile. In-flight fetches keep running,
// stay counted as pending and store their result when they complete, so
// coming back to a zoom level does not fetch the same tile twice.
func (tc *TileCache) InvalidateAll() {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.store.Clear()
}

// Has reports whether c is cached without triggering a fetch.
func (tc *TileCache) Has(c tile.Coord) bool {
	return tc.store.Has(c.Key())
}

// Pending reports whether a fetch for c is in flight.
func (tc *TileCache) Pending(c tile.Coord) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	_, ok := tc.pending[c.Key()]
	return ok
}

// Wait blocks until every fetch started so far has finished.
func (tc *TileCache) Wait() {
	tc.wg.Wait()
}

func (tc *TileCache) Stats() Stats {
	return Stats{
		Hits:     tc.hits.Load(),
		Misses:   tc.misses.Load(),
		Fetches:  tc.fetches.Load(),
		Failures: tc.failures.Load(),
	}
}

// Close abandons in-flight fetches and releases every cached tile. The
// cache serves nothing afterwards.
func (tc *TileCache) Close() {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.closed {
		return
	}
	tc.closed = true
	tc.cancel()
	tc.store.Clear()
	tc.pending = make(map[string]struct{})

	if c, ok := tc.store.(interface{ Close() }); ok {
		c.Close()
	}
}
