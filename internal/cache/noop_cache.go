package cache

import "utfgrid/internal/grid"

// NoopStore never keeps anything, so every lookup refetches.
type NoopStore struct{}

func NewNoopStore() *NoopStore {
	return &NoopStore{}
}

func (c *NoopStore) Get(key string) (*grid.Tile, bool) {
	return nil, false
}

func (c *NoopStore) Set(key string, value *grid.Tile) {
}

func (c *NoopStore) Has(key string) bool {
	return false
}

func (c *NoopStore) Clear() {
}
