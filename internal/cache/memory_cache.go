package cache

import (
	"sync"

	"utfgrid/internal/grid"
)

// MemoryStore keeps every decoded tile until Clear. Tiles are dropped as a
// whole on zoom change rather than evicted one by one.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*grid.Tile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]*grid.Tile),
	}
}

func (c *MemoryStore) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.items[key]
	return ok
}

func (c *MemoryStore) Get(key string) (*grid.Tile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.items[key]
	return t, ok
}

func (c *MemoryStore) Set(key string, value *grid.Tile) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = value
}

func (c *MemoryStore) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}

func (c *MemoryStore) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*grid.Tile)
}
