package cache

import "utfgrid/internal/grid"

// Store holds decoded grid tiles by their "z/x/y" key.
type Store interface {
	Get(key string) (*grid.Tile, bool)
	Set(key string, value *grid.Tile)
	Has(key string) bool // Check if tile exists without decoding it (lightweight check)
	Clear()
}
