package layer

import (
	"fmt"
	"time"

	"utfgrid/internal/tile"
)

// Options configures a grid layer.
type Options struct {
	// Subdomains is the character pool {s} is filled from.
	Subdomains string
	// The layer ignores viewports zoomed outside [MinZoom, MaxZoom].
	MinZoom int
	MaxZoom int
	// TileSize is the pixel size of one tile.
	TileSize int
	// Resolution is the pixel span of one grid cell.
	Resolution int
	// UseCallbackTransport fetches tiles as callback-wrapped responses
	// instead of plain JSON, for servers that only answer that way.
	UseCallbackTransport bool
	// PointerCursor switches the map cursor to "pointer" while a feature is hovered.
	PointerCursor bool
	FetchWorkers  int
	FetchTimeout  time.Duration
}

// DefaultOptions returns default options.
func DefaultOptions() Options {
	return Options{
		Subdomains:           "abc",
		MinZoom:              0,
		MaxZoom:              18,
		TileSize:             tile.DefaultSize,
		Resolution:           4,
		UseCallbackTransport: false,
		PointerCursor:        true,
		FetchWorkers:         4,
	}
}

// ValidationError reports an unusable option.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid layer option %s: %s", e.Field, e.Reason)
}

// Validate rejects option combinations that can only be configuration mistakes.
func (o Options) Validate() error {
	switch {
	case o.MinZoom < 0:
		return &ValidationError{Field: "MinZoom", Reason: fmt.Sprintf("must not be negative, got %d", o.MinZoom)}
	case o.MaxZoom < o.MinZoom:
		return &ValidationError{Field: "MaxZoom", Reason: fmt.Sprintf("%d is below MinZoom %d", o.MaxZoom, o.MinZoom)}
	case o.TileSize <= 0:
		return &ValidationError{Field: "TileSize", Reason: fmt.Sprintf("must be positive, got %d", o.TileSize)}
	case o.Resolution <= 0:
		return &ValidationError{Field: "Resolution", Reason: fmt.Sprintf("must be positive, got %d", o.Resolution)}
	case o.FetchWorkers < 0:
		return &ValidationError{Field: "FetchWorkers", Reason: fmt.Sprintf("must not be negative, got %d", o.FetchWorkers)}
	case o.FetchTimeout < 0:
		return &ValidationError{Field: "FetchTimeout", Reason: "must not be negative"}
	}
	return nil
}
