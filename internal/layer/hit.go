package layer

import (
	"encoding/json"
	"math"

	"github.com/paulmach/orb"
)

// HitResult is the feature found under a coordinate.
type HitResult struct {
	Coordinate orb.Point
	ID         string
	Data       map[string]any
}

// Fields merges the coordinate and id with the feature's attributes.
// Attributes win on name clashes.
func (h *HitResult) Fields() map[string]any {
	fields := make(map[string]any, len(h.Data)+2)
	fields["coordinate"] = h.Coordinate
	fields["id"] = h.ID
	for k, v := range h.Data {
		fields[k] = v
	}
	return fields
}

func (h *HitResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Fields())
}

// Resolve finds the feature under ll. It reports false when the layer is
// detached or out of its zoom range, when the owning tile is not loaded yet
// (a fetch is started in that case), or when no feature covers the cell.
func (l *Layer) Resolve(ll orb.Point) (*HitResult, bool) {
	l.mu.Lock()
	m, tiles := l.m, l.cache
	l.mu.Unlock()

	if m == nil {
		return nil, false
	}
	zoom := m.Zoom()
	if !l.inZoomRange(zoom) {
		return nil, false
	}

	p := m.Project(ll, zoom)
	coord := l.mapper.PixelToCoord(p, zoom)
	if _, ok := coord.Maptile(); !ok {
		return nil, false
	}
	t, ok := tiles.Get(coord)
	if !ok {
		return nil, false
	}

	origin := l.mapper.PixelOrigin(coord)
	res := float64(l.opts.Resolution)
	gridX := int(math.Floor((p.X - origin.X) / res))
	gridY := int(math.Floor((p.Y - origin.Y) / res))

	key, ok := t.KeyAt(gridX, gridY)
	if !ok {
		return nil, false
	}
	attrs, ok := t.Feature(key)
	if !ok {
		return nil, false
	}

	return &HitResult{Coordinate: ll, ID: key, Data: attrs}, true
}
