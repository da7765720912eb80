package layer

import "utfgrid/internal/tile"

type EventType string

const (
	EventMouseOver EventType = "mouseover"
	EventMouseOut  EventType = "mouseout"
	EventClick     EventType = "click"
	// EventTileLoad fires from the fetching goroutine once a tile is cached.
	EventTileLoad EventType = "tileload"
)

type Event struct {
	Type EventType
	Hit  *HitResult
	Tile tile.Coord
}

// On registers fn for events of type t. Pointer events are delivered
// synchronously from PointerMove and Click.
func (l *Layer) On(t EventType, fn func(Event)) {
	l.listenersMu.Lock()
	defer l.listenersMu.Unlock()
	l.listeners[t] = append(l.listeners[t], fn)
}

func (l *Layer) emit(e Event) {
	l.listenersMu.RLock()
	fns := append([]func(Event){}, l.listeners[e.Type]...)
	l.listenersMu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}
