package tile

import (
	"fmt"
	"math"

	"github.com/paulmach/orb/maptile"
)

const DefaultSize = 256

// Point is a position in world pixel space at some zoom level.
type Point struct {
	X float64
	Y float64
}

// Bounds is a pixel rectangle, Min being the north-west corner.
type Bounds struct {
	Min Point
	Max Point
}

// Coord identifies one tile. It is a value type and never mutated.
type Coord struct {
	X int
	Y int
	Z int
}

// Key is the canonical "z/x/y" form used as cache identity.
func (c Coord) Key() string {
	return fmt.Sprintf("%d/%d/%d", c.Z, c.X, c.Y)
}

func (c Coord) String() string {
	return c.Key()
}

// ParseKey is the inverse of Coord.Key.
func ParseKey(key string) (Coord, error) {
	var c Coord
	if _, err := fmt.Sscanf(key, "%d/%d/%d", &c.Z, &c.X, &c.Y); err != nil {
		return Coord{}, fmt.Errorf("invalid tile key %q: %w", key, err)
	}
	return c, nil
}

// Maptile converts c to an orb maptile. It reports false when c lies outside
// the world at its zoom, which happens for viewports panned past the edge.
func (c Coord) Maptile() (maptile.Tile, bool) {
	if c.Z < 0 || c.Z >= 32 || c.X < 0 || c.Y < 0 {
		return maptile.Tile{}, false
	}
	t := maptile.New(uint32(c.X), uint32(c.Y), maptile.Zoom(c.Z))
	return t, t.Valid()
}

// Mapper converts between pixel space and tile coordinates.
type Mapper struct {
	TileSize int
}

func NewMapper(tileSize int) Mapper {
	if tileSize <= 0 {
		tileSize = DefaultSize
	}
	return Mapper{TileSize: tileSize}
}

// PixelToCoord returns the tile containing p at zoom.
func (m Mapper) PixelToCoord(p Point, zoom int) Coord {
	size := float64(m.TileSize)
	return Coord{
		X: int(math.Floor(p.X / size)),
		Y: int(math.Floor(p.Y / size)),
		Z: zoom,
	}
}

// PixelOrigin returns the pixel position of the north-west corner of c.
func (m Mapper) PixelOrigin(c Coord) Point {
	return Point{
		X: float64(c.X * m.TileSize),
		Y: float64(c.Y * m.TileSize),
	}
}

// Cover returns every tile intersecting b at zoom, column by column from
// the north-west corner.
func (m Mapper) Cover(b Bounds, zoom int) []Coord {
	nw := m.PixelToCoord(b.Min, zoom)
	se := m.PixelToCoord(b.Max, zoom)
	if se.X < nw.X || se.Y < nw.Y {
		return nil
	}

	coords := make([]Coord, 0, (se.X-nw.X+1)*(se.Y-nw.Y+1))
	for x := nw.X; x <= se.X; x++ {
		for y := nw.Y; y <= se.Y; y++ {
			coords = append(coords, Coord{X: x, Y: y, Z: zoom})
		}
	}
	return coords
}
