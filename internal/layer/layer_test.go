package layer

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"utfgrid/internal/host"
	"utfgrid/internal/mapview"
	"utfgrid/internal/tile"
	"utfgrid/internal/transport"
)

// gridBody is a 64x64 grid at resolution 4: "a1" in the north-west cell,
// "a2" in the south-east cell, no feature anywhere else.
func gridBody(t *testing.T) []byte {
	t.Helper()
	rows := make([]string, 64)
	for y := range rows {
		row := []rune(strings.Repeat(" ", 64))
		if y == 0 {
			row[0] = '!'
		}
		if y == 63 {
			row[63] = '#'
		}
		rows[y] = string(row)
	}
	raw, err := json.Marshal(map[string]any{
		"grid": rows,
		"keys": []string{"", "a1", "a2"},
		"data": map[string]any{
			"a1": map[string]any{"name": "X"},
			"a2": map[string]any{"name": "Y"},
		},
	})
	require.NoError(t, err)
	return raw
}

type tileServer struct {
	*httptest.Server
	requests atomic.Int32
}

// newTileServer answers with plain JSON, or wrapped in the callback when
// one is requested.
func newTileServer(t *testing.T) *tileServer {
	t.Helper()
	srv, _ := newGatedTileServer(t, "")
	return srv
}

// newGatedTileServer holds requests whose path contains match until the
// returned release func is called. An empty match holds nothing.
func newGatedTileServer(t *testing.T, match string) (*tileServer, func()) {
	t.Helper()
	body := gridBody(t)
	gate := make(chan struct{})
	release := sync.OnceFunc(func() { close(gate) })

	ts := &tileServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.requests.Add(1)
		if match != "" && strings.Contains(r.URL.Path, match) {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
		if cb := r.URL.Query().Get("callback"); cb != "" {
			w.Header().Set("Content-Type", "application/javascript")
			w.Write(transport.Wrap(cb, body))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))
	t.Cleanup(ts.Close)
	t.Cleanup(release)
	return ts, release
}

// pixelMap treats lng/lat points as world pixel positions so tests can
// aim at exact cells.
type pixelMap struct {
	mu       sync.Mutex
	zoom     int
	bounds   tile.Bounds
	handlers []host.Handler
	cursor   string
}

func (m *pixelMap) Project(ll orb.Point, zoom int) tile.Point {
	return tile.Point{X: ll[0], Y: ll[1]}
}

func (m *pixelMap) PixelBounds() tile.Bounds {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bounds
}

func (m *pixelMap) Zoom() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.zoom
}

func (m *pixelMap) Subscribe(h host.Handler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.handlers = nil
	}
}

func (m *pixelMap) SetCursor(cursor string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursor = cursor
}

func (m *pixelMap) Cursor() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor
}

// stallingMap blocks the first Project call made after arm until resume
// is closed.
type stallingMap struct {
	*pixelMap
	armed   atomic.Bool
	stalled chan struct{}
	resume  chan struct{}
}

func newStallingMap(m *pixelMap) *stallingMap {
	return &stallingMap{pixelMap: m, stalled: make(chan struct{}), resume: make(chan struct{})}
}

func (m *stallingMap) Project(ll orb.Point, zoom int) tile.Point {
	if m.armed.CompareAndSwap(true, false) {
		close(m.stalled)
		<-m.resume
	}
	return m.pixelMap.Project(ll, zoom)
}

func newLayer(t *testing.T, base string, opts Options) *Layer {
	t.Helper()
	l, err := New(Config{URL: base + "/{z}/{x}/{y}.grid.json", Options: opts}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return l
}

func attach(t *testing.T, l *Layer, m host.Map) {
	t.Helper()
	require.NoError(t, l.Attach(m))
	tiles := l.Cache()
	t.Cleanup(func() {
		l.Detach()
		tiles.Wait()
	})
	tiles.Wait()
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) listen(l *Layer, types ...EventType) {
	for _, typ := range types {
		l.On(typ, func(e Event) {
			r.mu.Lock()
			defer r.mu.Unlock()
			if e.Hit != nil {
				r.events = append(r.events, string(e.Type)+":"+e.Hit.ID)
			} else {
				r.events = append(r.events, string(e.Type)+":"+e.Tile.Key())
			}
		})
	}
}

func (r *recorder) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := r.events
	r.events = nil
	return events
}

func TestResolveEndToEnd(t *testing.T) {
	srv := newTileServer(t)
	m := mapview.NewStatic(orb.Point{0, 0}, 1, 200, 100, 256)
	l := newLayer(t, srv.URL, DefaultOptions())
	attach(t, l, m)

	assert.Equal(t, int32(4), srv.requests.Load())

	// (0, 0) projects to pixel (256, 256): the first cell of tile 1/1/1.
	hit, ok := l.Resolve(orb.Point{0, 0})
	require.True(t, ok)
	assert.Equal(t, "a1", hit.ID)
	assert.Equal(t, orb.Point{0, 0}, hit.Coordinate)

	raw, err := json.Marshal(hit)
	require.NoError(t, err)
	assert.JSONEq(t, `{"coordinate":[0,0],"id":"a1","name":"X"}`, string(raw))

	// A little south-east of the centre lands on an unmapped cell.
	_, ok = l.Resolve(orb.Point{10, -10})
	assert.False(t, ok)
}

func TestResolveCellBoundaries(t *testing.T) {
	srv := newTileServer(t)
	m := &pixelMap{zoom: 3, bounds: tile.Bounds{Max: tile.Point{X: 511, Y: 511}}}
	l := newLayer(t, srv.URL, DefaultOptions())
	attach(t, l, m)

	hit, ok := l.Resolve(orb.Point{255, 255})
	require.True(t, ok, "last pixel of a tile maps to its last cell")
	assert.Equal(t, "a2", hit.ID)
	assert.Equal(t, map[string]any{"name": "Y"}, hit.Data)

	hit, ok = l.Resolve(orb.Point{256, 256})
	require.True(t, ok, "first pixel of the next tile maps to its first cell")
	assert.Equal(t, "a1", hit.ID)

	hit, ok = l.Resolve(orb.Point{3.9, 3.9})
	require.True(t, ok)
	assert.Equal(t, "a1", hit.ID)

	_, ok = l.Resolve(orb.Point{4, 4})
	assert.False(t, ok)
}

func TestResolveUnloadedTileRequestsIt(t *testing.T) {
	srv := newTileServer(t)
	m := &pixelMap{zoom: 3, bounds: tile.Bounds{Max: tile.Point{X: 255, Y: 255}}}
	l := newLayer(t, srv.URL, DefaultOptions())
	attach(t, l, m)

	far := orb.Point{1024 + 1, 1}
	_, ok := l.Resolve(far)
	assert.False(t, ok)

	l.Cache().Wait()
	hit, ok := l.Resolve(far)
	require.True(t, ok)
	assert.Equal(t, "a1", hit.ID)
}

func TestZoomChangeInvalidatesTiles(t *testing.T) {
	srv := newTileServer(t)
	m := mapview.NewStatic(orb.Point{0, 0}, 1, 200, 100, 256)
	l := newLayer(t, srv.URL, DefaultOptions())
	attach(t, l, m)

	tiles := l.Cache()
	require.True(t, tiles.Has(tile.Coord{X: 1, Y: 1, Z: 1}))

	m.SetZoom(2)
	for _, c := range []tile.Coord{{X: 0, Y: 0, Z: 1}, {X: 1, Y: 1, Z: 1}} {
		assert.False(t, tiles.Has(c))
	}

	tiles.Wait()
	assert.True(t, tiles.Has(tile.Coord{X: 2, Y: 2, Z: 2}))
	assert.Equal(t, int32(8), srv.requests.Load())
}

func TestOutOfZoomRangeIsInert(t *testing.T) {
	srv := newTileServer(t)
	opts := DefaultOptions()
	opts.MinZoom = 2
	opts.MaxZoom = 4
	m := mapview.NewStatic(orb.Point{0, 0}, 1, 200, 100, 256)
	l := newLayer(t, srv.URL, opts)
	attach(t, l, m)

	_, ok := l.Resolve(orb.Point{0, 0})
	assert.False(t, ok)
	l.Cache().Wait()
	assert.Equal(t, int32(0), srv.requests.Load())

	m.SetZoom(5)
	l.Cache().Wait()
	assert.Equal(t, int32(0), srv.requests.Load())

	m.SetZoom(2)
	l.Cache().Wait()
	assert.Greater(t, srv.requests.Load(), int32(0))
}

func TestHoverAndClickEvents(t *testing.T) {
	srv := newTileServer(t)
	m := &pixelMap{zoom: 3, bounds: tile.Bounds{Max: tile.Point{X: 255, Y: 255}}}
	l := newLayer(t, srv.URL, DefaultOptions())
	rec := &recorder{}
	rec.listen(l, EventMouseOver, EventMouseOut, EventClick)
	attach(t, l, m)

	l.PointerMove(orb.Point{1, 1})
	assert.Equal(t, []string{"mouseover:a1"}, rec.take())
	assert.Equal(t, "pointer", m.Cursor())

	l.PointerMove(orb.Point{2, 2})
	assert.Empty(t, rec.take(), "moving within the same feature emits nothing")

	l.PointerMove(orb.Point{254, 254})
	assert.Equal(t, []string{"mouseout:a1", "mouseover:a2"}, rec.take())

	hovered, ok := l.Hovered()
	require.True(t, ok)
	assert.Equal(t, "a2", hovered.ID)

	l.PointerMove(orb.Point{100, 100})
	assert.Equal(t, []string{"mouseout:a2"}, rec.take())
	assert.Equal(t, "", m.Cursor())

	l.Click(orb.Point{100, 100})
	assert.Empty(t, rec.take())

	l.Click(orb.Point{0, 0})
	assert.Equal(t, []string{"click:a1"}, rec.take())
}

func TestHoverResolvesWhenTileArrives(t *testing.T) {
	srv := newTileServer(t)
	m := &pixelMap{zoom: 3, bounds: tile.Bounds{Max: tile.Point{X: 255, Y: 255}}}
	l := newLayer(t, srv.URL, DefaultOptions())
	rec := &recorder{}
	rec.listen(l, EventMouseOver)
	attach(t, l, m)

	l.PointerMove(orb.Point{512 + 1, 1})
	assert.Empty(t, rec.take())

	l.Cache().Wait()
	assert.Equal(t, []string{"mouseover:a1"}, rec.take())
}

func TestTileArrivalDoesNotOverrideNewerHover(t *testing.T) {
	srv, releaseTile := newGatedTileServer(t, "/3/2/0")
	m := newStallingMap(&pixelMap{zoom: 3, bounds: tile.Bounds{Max: tile.Point{X: 255, Y: 255}}})
	l := newLayer(t, srv.URL, DefaultOptions())
	rec := &recorder{}
	rec.listen(l, EventMouseOver, EventMouseOut)
	attach(t, l, m)

	// Over tile 3/2/0, which is held by the server.
	l.PointerMove(orb.Point{512 + 1, 1})
	assert.Empty(t, rec.take())

	// The tile arrives and its re-evaluation of the old pointer stalls
	// while the pointer moves onto a2.
	m.armed.Store(true)
	releaseTile()
	<-m.stalled
	l.PointerMove(orb.Point{254, 254})
	assert.Equal(t, []string{"mouseover:a2"}, rec.take())

	close(m.resume)
	l.Cache().Wait()

	hovered, ok := l.Hovered()
	require.True(t, ok)
	assert.Equal(t, "a2", hovered.ID)
	assert.Empty(t, rec.take(), "a stale re-evaluation emits nothing")
	assert.Equal(t, "pointer", m.Cursor())
}

func TestDetachReleasesCallbackRegistrations(t *testing.T) {
	srv, releaseTiles := newGatedTileServer(t, "/")
	opts := DefaultOptions()
	opts.UseCallbackTransport = true
	m := &pixelMap{zoom: 3, bounds: tile.Bounds{Max: tile.Point{X: 255, Y: 255}}}
	l := newLayer(t, srv.URL, opts)
	rec := &recorder{}
	rec.listen(l, EventTileLoad)

	require.NoError(t, l.Attach(m))
	l.mu.Lock()
	reg := l.registry
	l.mu.Unlock()
	require.NotNil(t, reg)
	tiles := l.Cache()
	require.True(t, tiles.Pending(tile.Coord{Z: 3}))
	require.Eventually(t, func() bool { return srv.requests.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, reg.Len())

	l.Detach()
	assert.Equal(t, 0, reg.Len())
	assert.ErrorIs(t, reg.Register("3/0/0", func([]byte) {}), transport.ErrRegistryClosed)

	releaseTiles()
	tiles.Wait()

	assert.Empty(t, rec.take(), "no tileload after detach")
	assert.False(t, tiles.Has(tile.Coord{Z: 3}))
	assert.Equal(t, int64(1), tiles.Stats().Failures)
	assert.Equal(t, 0, reg.Len())
}

func TestPointerCursorDisabled(t *testing.T) {
	srv := newTileServer(t)
	m := &pixelMap{zoom: 3, bounds: tile.Bounds{Max: tile.Point{X: 255, Y: 255}}}
	opts := DefaultOptions()
	opts.PointerCursor = false
	l := newLayer(t, srv.URL, opts)
	attach(t, l, m)

	l.PointerMove(orb.Point{1, 1})
	_, ok := l.Hovered()
	assert.True(t, ok)
	assert.Equal(t, "", m.Cursor())
}

func TestTileLoadEvents(t *testing.T) {
	srv := newTileServer(t)
	m := &pixelMap{zoom: 3, bounds: tile.Bounds{Max: tile.Point{X: 511, Y: 255}}}
	l := newLayer(t, srv.URL, DefaultOptions())
	rec := &recorder{}
	rec.listen(l, EventTileLoad)
	attach(t, l, m)

	assert.ElementsMatch(t, []string{"tileload:3/0/0", "tileload:3/1/0"}, rec.take())
}

func TestDetach(t *testing.T) {
	srv := newTileServer(t)
	m := mapview.NewStatic(orb.Point{0, 0}, 1, 200, 100, 256)
	l := newLayer(t, srv.URL, DefaultOptions())
	rec := &recorder{}
	rec.listen(l, EventMouseOver, EventMouseOut)
	attach(t, l, m)

	m.PointerMove(orb.Point{0, 0})
	assert.Equal(t, []string{"mouseover:a1"}, rec.take())
	assert.Equal(t, "pointer", m.Cursor())

	tiles := l.Cache()
	l.Detach()

	assert.False(t, l.Attached())
	assert.Equal(t, 0, m.Subscribers())
	assert.Equal(t, "", m.Cursor())
	assert.False(t, tiles.Has(tile.Coord{X: 1, Y: 1, Z: 1}))
	assert.Nil(t, l.Cache())

	_, ok := l.Resolve(orb.Point{0, 0})
	assert.False(t, ok)

	m.PointerMove(orb.Point{10, 10})
	assert.Empty(t, rec.take())

	l.Detach()
}

func TestReattach(t *testing.T) {
	srv := newTileServer(t)
	m := mapview.NewStatic(orb.Point{0, 0}, 1, 200, 100, 256)
	l := newLayer(t, srv.URL, DefaultOptions())
	attach(t, l, m)

	assert.ErrorIs(t, l.Attach(m), ErrAlreadyAttached)

	l.Detach()
	attach(t, l, m)
	assert.Equal(t, 1, m.Subscribers())

	_, ok := l.Resolve(orb.Point{0, 0})
	assert.True(t, ok)
}

func TestCallbackTransportEndToEnd(t *testing.T) {
	srv := newTileServer(t)
	opts := DefaultOptions()
	opts.UseCallbackTransport = true
	m := mapview.NewStatic(orb.Point{0, 0}, 1, 200, 100, 256)
	l := newLayer(t, srv.URL, opts)
	attach(t, l, m)

	hit, ok := l.Resolve(orb.Point{0, 0})
	require.True(t, ok)
	assert.Equal(t, "a1", hit.ID)
	assert.Equal(t, "X", hit.Data["name"])
}

func TestNewRejectsBadConfig(t *testing.T) {
	opts := DefaultOptions()
	opts.MinZoom = 5
	opts.MaxZoom = 3
	_, err := New(Config{URL: "http://localhost/{z}/{x}/{y}.json", Options: opts}, zaptest.NewLogger(t))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "MaxZoom", verr.Field)

	opts = DefaultOptions()
	opts.Resolution = 0
	_, err = New(Config{URL: "http://localhost/{z}/{x}/{y}.json", Options: opts}, zaptest.NewLogger(t))
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "Resolution", verr.Field)

	_, err = New(Config{URL: "http://localhost/{layer}/{z}/{x}/{y}.json", Options: DefaultOptions()}, zaptest.NewLogger(t))
	assert.Error(t, err)

	_, err = New(Config{
		URL:     "http://localhost/{layer}/{z}/{x}/{y}.json",
		Values:  map[string]string{"layer": "countries"},
		Options: DefaultOptions(),
	}, zaptest.NewLogger(t))
	assert.NoError(t, err)
}
