package mapview

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"utfgrid/internal/tile"
)

// MaxLatitude is the edge of the Web Mercator square.
const MaxLatitude = 85.0511287798

func clampLatitude(lat float64) float64 {
	if lat > MaxLatitude {
		return MaxLatitude
	}
	if lat < -MaxLatitude {
		return -MaxLatitude
	}
	return lat
}

// WebMercator projects lng/lat into world pixels the way slippy map tiles are laid out.
type WebMercator struct {
	TileSize int
}

func (w WebMercator) Project(ll orb.Point, zoom int) tile.Point {
	size := w.TileSize
	if size <= 0 {
		size = tile.DefaultSize
	}
	ll = orb.Point{ll.Lon(), clampLatitude(ll.Lat())}
	f := maptile.Fraction(ll, maptile.Zoom(zoom))
	return tile.Point{
		X: f.X() * float64(size),
		Y: f.Y() * float64(size),
	}
}
