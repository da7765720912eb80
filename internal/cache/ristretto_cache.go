package cache

import (
	"fmt"

	"github.com/dgraph-io/ristretto"

	"utfgrid/internal/grid"
)

// RistrettoStore bounds memory to roughly maxTiles decoded tiles. Ristretto
// may decline to admit a tile; the tile is then simply fetched again on the
// next miss.
type RistrettoStore struct {
	cache *ristretto.Cache
}

func NewRistrettoStore(maxTiles int) (*RistrettoStore, error) {
	if maxTiles <= 0 {
		return nil, fmt.Errorf("ristretto cache needs a positive tile budget, got %d", maxTiles)
	}

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(maxTiles) * 10, // keys tracked for admission, ~10x capacity
		MaxCost:     int64(maxTiles),      // one unit per tile
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ristretto cache: %w", err)
	}
	return &RistrettoStore{cache: c}, nil
}

func (c *RistrettoStore) Has(key string) bool {
	_, ok := c.cache.Get(key)
	return ok
}

func (c *RistrettoStore) Get(key string) (*grid.Tile, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	t, ok := v.(*grid.Tile)
	return t, ok
}

func (c *RistrettoStore) Set(key string, value *grid.Tile) {
	c.cache.Set(key, value, 1)
	c.cache.Wait()
}

func (c *RistrettoStore) Clear() {
	c.cache.Clear()
}

// Close stops ristretto's background goroutines.
func (c *RistrettoStore) Close() {
	c.cache.Close()
}
