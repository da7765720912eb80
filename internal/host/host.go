// Package host declares what the grid layer needs from the map it is attached to.
package host

import (
	"github.com/paulmach/orb"

	"utfgrid/internal/tile"
)

// Handler receives the map notifications a grid layer reacts to.
type Handler interface {
	MoveEnd()
	ZoomEnd()
	PointerMove(ll orb.Point)
	Click(ll orb.Point)
}

// Map is the viewport a layer is attached to.
type Map interface {
	// Project converts a lng/lat point to world pixels at zoom.
	Project(ll orb.Point, zoom int) tile.Point
	PixelBounds() tile.Bounds
	Zoom() int
	Subscribe(h Handler) (unsubscribe func())
}

// CursorSetter is implemented by maps that can show hover feedback.
type CursorSetter interface {
	SetCursor(cursor string)
}
