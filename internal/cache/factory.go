package cache

import (
	"fmt"

	"go.uber.org/zap"
)

// NewStore creates a store instance based on the cache type
func NewStore(cacheType, cacheFileDir string, cacheMaxTiles int, log *zap.Logger) (Store, error) {
	switch cacheType {
	case "memory":
		log.Info("Using memory grid cache")
		return NewMemoryStore(), nil
	case "ristretto":
		log.Info("Using ristretto grid cache", zap.Int("max_tiles", cacheMaxTiles))
		return NewRistrettoStore(cacheMaxTiles)
	case "file":
		log.Info("Using file grid cache", zap.String("cache_dir", cacheFileDir))
		return NewFileStore(cacheFileDir)
	case "disabled":
		log.Info("Grid cache disabled")
		return NewNoopStore(), nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s (supported: memory, ristretto, file, disabled)", cacheType)
	}
}
