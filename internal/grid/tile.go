package grid

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var ErrMissingGrid = errors.New("tile has no grid")

// Tile is one decoded UTFGrid payload.
type Tile struct {
	Grid [][]rune
	Keys []string
	Data map[string]map[string]any

	// resolve maps a decoded cell index to a feature key. It is picked once
	// in Parse depending on whether the payload carries a keys table.
	resolve func(idx int) (string, bool)
}

type wireTile struct {
	Grid []string                  `json:"grid"`
	Keys []string                  `json:"keys,omitempty"`
	Data map[string]map[string]any `json:"data"`
}

// Parse decodes raw tile JSON.
func Parse(raw []byte) (*Tile, error) {
	var w wireTile
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("failed to parse grid tile: %w", err)
	}
	if w.Grid == nil {
		return nil, ErrMissingGrid
	}

	rows := make([][]rune, len(w.Grid))
	for i, row := range w.Grid {
		rows[i] = []rune(row)
	}

	return New(rows, w.Keys, w.Data), nil
}

// New builds a tile from already split rows. A nil keys slice selects
// direct lookup where the decoded index itself is the feature key.
func New(rows [][]rune, keys []string, data map[string]map[string]any) *Tile {
	if data == nil {
		data = map[string]map[string]any{}
	}
	t := &Tile{Grid: rows, Keys: keys, Data: data}
	if keys != nil {
		t.resolve = t.indexedKey
	} else {
		t.resolve = directKey
	}
	return t
}

func directKey(idx int) (string, bool) {
	return strconv.Itoa(idx), true
}

func (t *Tile) indexedKey(idx int) (string, bool) {
	if idx < 0 || idx >= len(t.Keys) {
		return "", false
	}
	key := t.Keys[idx]
	// "" marks cells that belong to no feature.
	return key, key != ""
}

// Size is the number of grid rows, which is also the number of cells per row
// for a well formed tile.
func (t *Tile) Size() int {
	return len(t.Grid)
}

// KeyAt returns the feature key under grid cell (x, y).
func (t *Tile) KeyAt(x, y int) (string, bool) {
	max := t.Size() - 1
	if x < 0 || x > max || y < 0 || y > max {
		return "", false
	}
	row := t.Grid[y]
	if x >= len(row) {
		return "", false
	}
	resolve := t.resolve
	if resolve == nil {
		resolve = directKey
		if t.Keys != nil {
			resolve = t.indexedKey
		}
	}
	return resolve(Decode(row[x]))
}

// Feature returns the attribute record stored for key.
func (t *Tile) Feature(key string) (map[string]any, bool) {
	attrs, ok := t.Data[key]
	return attrs, ok
}

func (t *Tile) MarshalJSON() ([]byte, error) {
	w := wireTile{
		Grid: make([]string, len(t.Grid)),
		Keys: t.Keys,
		Data: t.Data,
	}
	for i, row := range t.Grid {
		w.Grid[i] = string(row)
	}
	return json.Marshal(w)
}
