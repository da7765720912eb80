// Package mapview provides a headless map host: a Web Mercator viewport of a
// fixed pixel size that forwards pan, zoom and pointer input to subscribed
// layers. It backs the probe command and the layer tests.
package mapview

import (
	"sync"

	"github.com/paulmach/orb"

	"utfgrid/internal/host"
	"utfgrid/internal/tile"
)

type Static struct {
	mu       sync.Mutex
	proj     WebMercator
	center   orb.Point
	zoom     int
	width    int
	height   int
	handlers map[int]host.Handler
	nextID   int
	cursor   string
}

var (
	_ host.Map          = (*Static)(nil)
	_ host.CursorSetter = (*Static)(nil)
)

// NewStatic creates a width x height pixel viewport centred on center.
func NewStatic(center orb.Point, zoom, width, height, tileSize int) *Static {
	return &Static{
		proj:     WebMercator{TileSize: tileSize},
		center:   center,
		zoom:     zoom,
		width:    width,
		height:   height,
		handlers: make(map[int]host.Handler),
	}
}

func (s *Static) Project(ll orb.Point, zoom int) tile.Point {
	return s.proj.Project(ll, zoom)
}

func (s *Static) PixelBounds() tile.Bounds {
	s.mu.Lock()
	center, zoom := s.center, s.zoom
	s.mu.Unlock()

	c := s.proj.Project(center, zoom)
	halfW := float64(s.width) / 2
	halfH := float64(s.height) / 2
	return tile.Bounds{
		Min: tile.Point{X: c.X - halfW, Y: c.Y - halfH},
		Max: tile.Point{X: c.X + halfW, Y: c.Y + halfH},
	}
}

func (s *Static) Zoom() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zoom
}

func (s *Static) Subscribe(h host.Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.handlers[id] = h

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, id)
	}
}

func (s *Static) SetCursor(cursor string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = cursor
}

func (s *Static) Cursor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Subscribers reports how many handlers are attached.
func (s *Static) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

// PanTo recentres the viewport and notifies a finished move.
func (s *Static) PanTo(center orb.Point) {
	s.mu.Lock()
	s.center = center
	s.mu.Unlock()

	for _, h := range s.snapshot() {
		h.MoveEnd()
	}
}

// SetZoom changes zoom and, like an interactive map, finishes with a zoom
// notification followed by a move notification.
func (s *Static) SetZoom(zoom int) {
	s.mu.Lock()
	s.zoom = zoom
	s.mu.Unlock()

	handlers := s.snapshot()
	for _, h := range handlers {
		h.ZoomEnd()
	}
	for _, h := range handlers {
		h.MoveEnd()
	}
}

func (s *Static) PointerMove(ll orb.Point) {
	for _, h := range s.snapshot() {
		h.PointerMove(ll)
	}
}

func (s *Static) Click(ll orb.Point) {
	for _, h := range s.snapshot() {
		h.Click(ll)
	}
}

func (s *Static) snapshot() []host.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()

	handlers := make([]host.Handler, 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	return handlers
}
