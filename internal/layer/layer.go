// Package layer implements the UTFGrid interaction layer: it keeps the grid
// tiles covering a host map's viewport loaded and turns pointer input into
// mouseover, mouseout and click events carrying the feature under the
// pointer.
package layer

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"utfgrid/internal/cache"
	"utfgrid/internal/host"
	"utfgrid/internal/tile"
	"utfgrid/internal/transport"
)

var ErrAlreadyAttached = errors.New("layer is already attached to a map")

// Config describes where tiles come from.
type Config struct {
	// URL is the tile template, e.g. "https://{s}.tiles.example/{z}/{x}/{y}.grid.json".
	URL string
	// Values fills template placeholders other than s, z, x and y.
	Values  map[string]string
	Options Options
	Client  *http.Client
	// NewStore creates the tile store for each attachment. Defaults to a memory store.
	NewStore func() (cache.Store, error)
	// Transport replaces the transport picked from Options.
	Transport transport.TileTransport
}

// Layer is detached until Attach and again after Detach.
type Layer struct {
	opts      Options
	template  *tile.Template
	mapper    tile.Mapper
	client    *http.Client
	newStore  func() (cache.Store, error)
	transport transport.TileTransport
	logger    *zap.Logger

	mu          sync.Mutex
	m           host.Map
	unsubscribe func()
	cache       *cache.TileCache
	registry    *transport.Registry
	hovered     *HitResult
	// pointer is the last position seen by PointerMove, pointerSeq counts moves.
	pointer     orb.Point
	pointerSeq  uint64
	hasPointer  bool

	listenersMu sync.RWMutex
	listeners   map[EventType][]func(Event)
}

var _ host.Handler = (*Layer)(nil)

func New(cfg Config, logger *zap.Logger) (*Layer, error) {
	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}

	template, err := tile.NewTemplate(cfg.URL, cfg.Options.Subdomains, cfg.Values)
	if err != nil {
		return nil, fmt.Errorf("invalid tile url: %w", err)
	}

	newStore := cfg.NewStore
	if newStore == nil {
		newStore = func() (cache.Store, error) { return cache.NewMemoryStore(), nil }
	}

	return &Layer{
		opts:      cfg.Options,
		template:  template,
		mapper:    tile.NewMapper(cfg.Options.TileSize),
		client:    cfg.Client,
		newStore:  newStore,
		transport: cfg.Transport,
		logger:    logger,
		listeners: make(map[EventType][]func(Event)),
	}, nil
}

// Attach starts serving m: the layer subscribes to its notifications and
// requests the tiles covering the current viewport.
func (l *Layer) Attach(m host.Map) error {
	l.mu.Lock()
	if l.m != nil {
		l.mu.Unlock()
		return ErrAlreadyAttached
	}

	store, err := l.newStore()
	if err != nil {
		l.mu.Unlock()
		return fmt.Errorf("failed to create tile store: %w", err)
	}

	tr := l.transport
	if tr == nil {
		if l.opts.UseCallbackTransport {
			l.registry = transport.NewRegistry()
			tr = transport.NewCallback(l.client, l.template, l.registry)
		} else {
			tr = transport.NewHTTP(l.client, l.template)
		}
	}

	l.cache = cache.NewTileCache(store, tr, cache.TileCacheOptions{
		Workers: l.opts.FetchWorkers,
		Timeout: l.opts.FetchTimeout,
		OnLoad:  l.tileLoaded,
	}, l.logger)
	l.m = m
	l.unsubscribe = m.Subscribe(l)
	l.mu.Unlock()

	l.logger.Info("Grid layer attached",
		zap.Int("zoom", m.Zoom()),
		zap.Bool("callback_transport", l.opts.UseCallbackTransport),
	)

	l.CoverViewport(m.PixelBounds(), m.Zoom())
	return nil
}

// Detach unsubscribes from the map and releases every tile and callback
// registration. It is a no-op on a detached layer.
func (l *Layer) Detach() {
	l.mu.Lock()
	if l.m == nil {
		l.mu.Unlock()
		return
	}

	m := l.m
	hadHover := l.hovered != nil

	l.unsubscribe()
	l.cache.Close()
	if l.registry != nil {
		l.registry.Close()
		l.registry = nil
	}
	l.hovered = nil
	l.hasPointer = false
	l.m = nil
	l.cache = nil
	l.unsubscribe = nil
	l.mu.Unlock()

	if hadHover {
		l.setCursor(m, "")
	}
	l.logger.Info("Grid layer detached")
}

// Attached reports whether the layer is active.
func (l *Layer) Attached() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.m != nil
}

// Cache exposes the tile cache of the current attachment, nil when detached.
func (l *Layer) Cache() *cache.TileCache {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cache
}

func (l *Layer) inZoomRange(zoom int) bool {
	return zoom >= l.opts.MinZoom && zoom <= l.opts.MaxZoom
}

// CoverViewport requests every tile intersecting bounds at zoom. Zoom
// levels outside the configured range are ignored.
func (l *Layer) CoverViewport(bounds tile.Bounds, zoom int) {
	l.mu.Lock()
	tiles := l.cache
	active := l.m != nil
	l.mu.Unlock()

	if !active || !l.inZoomRange(zoom) {
		return
	}

	requested := 0
	for _, c := range l.mapper.Cover(bounds, zoom) {
		// Viewports wider than the world reach past its edges.
		if _, ok := c.Maptile(); !ok {
			continue
		}
		tiles.RequestTile(c)
		requested++
	}
	l.logger.Debug("Covered viewport", zap.Int("zoom", zoom), zap.Int("tiles", requested))
}

func (l *Layer) currentMap() host.Map {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.m
}

func (l *Layer) MoveEnd() {
	m := l.currentMap()
	if m == nil {
		return
	}
	l.CoverViewport(m.PixelBounds(), m.Zoom())
}

// ZoomEnd drops every cached tile since grid content depends on zoom.
func (l *Layer) ZoomEnd() {
	l.mu.Lock()
	m, tiles := l.m, l.cache
	l.mu.Unlock()

	if m == nil {
		return
	}
	tiles.InvalidateAll()
	l.CoverViewport(m.PixelBounds(), m.Zoom())
}

// PointerMove tracks the hovered feature and emits mouseout for the one
// left and mouseover for the one entered.
func (l *Layer) PointerMove(ll orb.Point) {
	l.mu.Lock()
	if l.m == nil {
		l.mu.Unlock()
		return
	}
	l.pointerSeq++
	seq := l.pointerSeq
	l.pointer, l.hasPointer = ll, true
	l.mu.Unlock()

	l.updateHover(ll, seq)
}

// updateHover resolves ll and commits the result unless a newer pointer
// move arrived while resolving.
func (l *Layer) updateHover(ll orb.Point, seq uint64) {
	hit, ok := l.Resolve(ll)

	l.mu.Lock()
	m := l.m
	if m == nil || seq != l.pointerSeq {
		l.mu.Unlock()
		return
	}
	prev := l.hovered
	var events []Event
	switch {
	case ok && (prev == nil || prev.ID != hit.ID):
		if prev != nil {
			events = append(events, Event{Type: EventMouseOut, Hit: prev})
		}
		events = append(events, Event{Type: EventMouseOver, Hit: hit})
		l.hovered = hit
	case !ok && prev != nil:
		events = append(events, Event{Type: EventMouseOut, Hit: prev})
		l.hovered = nil
	}
	l.mu.Unlock()

	if len(events) == 0 {
		return
	}
	for _, e := range events {
		l.emit(e)
	}
	if ok {
		l.setCursor(m, "pointer")
	} else {
		l.setCursor(m, "")
	}
}

// Click emits a click event when a feature is under ll.
func (l *Layer) Click(ll orb.Point) {
	if hit, ok := l.Resolve(ll); ok {
		l.emit(Event{Type: EventClick, Hit: hit})
	}
}

// Hovered returns the feature currently under the pointer.
func (l *Layer) Hovered() (*HitResult, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hovered, l.hovered != nil
}

// tileLoaded re-evaluates the pointer when the tile under it arrives, so a
// hover that missed an unloaded tile resolves without further movement.
func (l *Layer) tileLoaded(c tile.Coord) {
	l.emit(Event{Type: EventTileLoad, Tile: c})

	l.mu.Lock()
	m, ll, ok, seq := l.m, l.pointer, l.hasPointer, l.pointerSeq
	l.mu.Unlock()

	if m == nil || !ok || m.Zoom() != c.Z {
		return
	}
	if l.mapper.PixelToCoord(m.Project(ll, c.Z), c.Z) == c {
		l.updateHover(ll, seq)
	}
}

func (l *Layer) setCursor(m host.Map, cursor string) {
	if !l.opts.PointerCursor {
		return
	}
	if cs, ok := m.(host.CursorSetter); ok {
		cs.SetCursor(cursor)
	}
}
