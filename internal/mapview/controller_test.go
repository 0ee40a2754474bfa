package mapview

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/market-atlas/internal/boundary"
	"github.com/sells-group/market-atlas/internal/choropleth"
	"github.com/sells-group/market-atlas/internal/geo"
	"github.com/sells-group/market-atlas/internal/metric"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var obsDate = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func f64(v float64) *float64 { return &v }

func square(west, south, size float64) geom.T {
	e, n := west+size, south+size
	return geom.NewPolygonFlat(geom.XY, []float64{west, south, e, south, e, n, west, n, west, south}, []int{10})
}

// fakeGeometry serves fixed feature sets and counts Ensure calls.
type fakeGeometry struct {
	mu     sync.Mutex
	sets   map[geo.Resolution]*boundary.FeatureSet
	fail   map[geo.Resolution]bool
	ensure map[geo.Resolution]int
}

func (g *fakeGeometry) Ensure(_ context.Context, res geo.Resolution) (*boundary.FeatureSet, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensure[res]++
	if g.fail[res] {
		return nil, fmt.Errorf("%s: %w", res, boundary.ErrUnavailable)
	}
	return g.sets[res], nil
}

func newGeometry() *fakeGeometry {
	return &fakeGeometry{
		ensure: make(map[geo.Resolution]int),
		fail:   make(map[geo.Resolution]bool),
		sets: map[geo.Resolution]*boundary.FeatureSet{
			geo.National: {Resolution: geo.National, Features: []*boundary.Feature{
				{Key: boundary.NationalKey, Name: "United States", Geometry: square(-125, 25, 58)},
			}},
			geo.State: {Resolution: geo.State, Features: []*boundary.Feature{
				{Key: "Kansas", Name: "Kansas", Geometry: square(-102, 37, 7.4)},
				{Key: "Missouri", Name: "Missouri", Geometry: square(-94.6, 36, 5)},
			}},
			geo.Metro: {Resolution: geo.Metro, Features: []*boundary.Feature{
				{Key: "28140", Name: "Kansas City", Geometry: square(-95, 38.5, 1.2)},
			}},
			geo.County: {Resolution: geo.County, Features: []*boundary.Feature{
				{Key: "20091", Name: "Johnson", Geometry: square(-95, 38.7, 0.3)},
				{Key: "29095", Name: "Jackson", Geometry: square(-94.6, 38.8, 0.4)},
			}},
			geo.Zip: {Resolution: geo.Zip, Features: []*boundary.Feature{
				{Key: "66101", Name: "66101", Geometry: square(-94.65, 39.08, 0.05)},
				{Key: "64105", Name: "64105", Geometry: square(-94.59, 39.08, 0.04)},
				{Key: "90210", Name: "90210", Geometry: square(-118.43, 34.07, 0.05)},
			}},
		},
	}
}

// fakeSource filters in-memory rows the way the observation view does.
type fakeSource struct {
	mu    sync.Mutex
	rows  []metric.Row
	calls map[string]int
}

func (s *fakeSource) ListVariables(context.Context) ([]metric.Variable, error) { return nil, nil }

func (s *fakeSource) LatestDate(context.Context, int64) (time.Time, bool, error) {
	return obsDate, true, nil
}

func (s *fakeSource) ObservationPage(_ context.Context, q metric.PageQuery) ([]metric.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[fmt.Sprintf("%d:%s:%s", q.VariableID, strings.Join(q.Levels, ","), strings.Join(q.States, "-"))]++

	var match []metric.Row
	for _, r := range s.rows {
		if r.VariableID != q.VariableID || !slices.Contains(q.Levels, r.Level) {
			continue
		}
		if len(q.States) > 0 && !slices.Contains(q.States, r.StateAbbr) {
			continue
		}
		if q.RequireState && r.StateAbbr == "" {
			continue
		}
		match = append(match, r)
	}
	if q.Offset >= len(match) {
		return nil, nil
	}
	end := min(q.Offset+q.Limit, len(match))
	return match[q.Offset:end], nil
}

func (s *fakeSource) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func row(id, variable int64, level, geoid, name, state string, value float64) metric.Row {
	r := metric.Row{EntityID: id, VariableID: variable, Value: f64(value), Date: obsDate,
		Level: level, GeoID: geoid, Name: name, StateAbbr: state}
	switch level {
	case "county":
		r.CountyFIPS = geoid
	case "zip":
		r.ZCTA = geoid
	case "msa":
		r.CBSACode = geoid
	}
	return r
}

func newSource() *fakeSource {
	var rows []metric.Row
	for _, v := range []int64{1, 2} {
		scale := float64(v)
		rows = append(rows,
			row(1, v, "state", "20", "Kansas", "KS", 200000*scale),
			row(2, v, "state", "29", "Missouri", "MO", 220000*scale),
			row(3, v, "msa", "28140", "Kansas City, MO-KS", "MO", 250000*scale),
			row(4, v, "county", "20091", "Johnson", "KS", 300000*scale),
			row(5, v, "county", "29095", "Jackson", "MO", 180000*scale),
			row(6, v, "zip", "66101", "66101", "KS", 90000*scale),
			row(7, v, "zip", "64105", "64105", "MO", 210000*scale),
		)
	}
	return &fakeSource{rows: rows, calls: make(map[string]int)}
}

var (
	homeValue = metric.Variable{ID: 1, Key: "zillow_zhvi", Label: "Home Value", ValueType: "currency"}
	rentYoY   = metric.Variable{ID: 2, Key: "zori_rent_yoy", Label: "Rent YoY", ValueType: "percent"}
)

type harness struct {
	ctrl *Controller
	geo  *fakeGeometry
	src  *fakeSource
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{geo: newGeometry(), src: newSource()}
	h.ctrl = NewController(Deps{
		Catalog:  metric.NewCatalog([]metric.Variable{homeValue, rentYoY}),
		Geometry: h.geo,
		Source:   h.src,
	}, Options{})
	return h
}

var kcBounds = geo.Bounds{West: -94.8, South: 38.9, East: -94.4, North: 39.3}

func vp(zoom float64, b geo.Bounds) geo.Viewport {
	lng, lat := b.Center()
	return geo.Viewport{Zoom: zoom, Lng: lng, Lat: lat, Bounds: b}
}

func usBounds() geo.Bounds { return geo.Bounds{West: -125, South: 24, East: -66, North: 50} }

func opStrings(ops []choropleth.Op) []string {
	out := make([]string, len(ops))
	for i, o := range ops {
		out[i] = o.Op + ":" + o.ID
	}
	return out
}

func TestController_StatusBeforeReady(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	f, err := h.ctrl.SelectVariable(ctx, homeValue.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNoViewport, f.Status)

	h2 := newHarness(t)
	f, err = h2.ctrl.Update(ctx, vp(4, usBounds()))
	require.NoError(t, err)
	assert.Equal(t, StatusSelectVariable, f.Status)
	assert.Equal(t, geo.State, f.Resolution)
	assert.Equal(t, "State", f.Level)
	assert.Equal(t, "Zoom in to see metro areas", f.ZoomHint)
	assert.Empty(t, f.Ops)

	_, err = h2.ctrl.SelectVariable(ctx, 99)
	assert.ErrorIs(t, err, ErrUnknownVariable)
}

func TestController_NationalToState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.ctrl.SelectVariable(ctx, homeValue.ID)
	require.NoError(t, err)

	f, err := h.ctrl.Update(ctx, vp(3.0, usBounds()))
	require.NoError(t, err)
	assert.Equal(t, StatusReady, f.Status)
	assert.Equal(t, geo.National, f.Resolution)
	assert.Equal(t, "rebuilt", f.Render)
	require.NotNil(t, f.Legend)
	assert.Equal(t, "$210,000", f.Legend.Min, "national value is the mean of the states")
	assert.Equal(t, 1, f.Joined)
	ops := opStrings(f.Ops)
	assert.Contains(t, ops, "addSource:national-source")
	assert.Contains(t, ops, "addLayer:national-fill")

	// The state key was fetched for synthesis, so entering state is warm.
	before := h.src.total()
	f, err = h.ctrl.Update(ctx, vp(4.0, usBounds()))
	require.NoError(t, err)
	assert.Equal(t, geo.State, f.Resolution)
	assert.Equal(t, before, h.src.total())

	ops = opStrings(f.Ops)
	assert.Contains(t, ops, "removeLayer:national-fill")
	assert.Contains(t, ops, "removeSource:national-source")
	assert.Contains(t, ops, "addLayer:state-fill")
	assert.Equal(t, []string{"state-fill", "state-outline", "state-labels"}, h.ctrl.Scene().Layers())
	assert.Equal(t, "$200,000", f.Legend.Min)
	assert.Equal(t, "$220,000", f.Legend.Max)
	assert.Equal(t, "2025-06-01", f.Legend.Date)
	assert.Equal(t, "Zillow", f.Legend.Vendor)

	// Sub-threshold zoom changes within state issue nothing.
	f, err = h.ctrl.Update(ctx, vp(4.3, usBounds()))
	require.NoError(t, err)
	assert.Equal(t, "unchanged", f.Render)
	assert.Empty(t, f.Ops)
}

func TestController_ZipPanBelowThreshold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.ctrl.SelectVariable(ctx, homeValue.ID)
	require.NoError(t, err)

	f, err := h.ctrl.Update(ctx, vp(11, kcBounds))
	require.NoError(t, err)
	assert.Equal(t, StatusReady, f.Status)
	assert.Equal(t, "zip_KS-MO", f.CacheKey)
	assert.Equal(t, 2, f.Features, "far ZIP filtered out")
	assert.Equal(t, 2, f.Joined)
	calls := h.src.total()

	// Pan by 15% of the viewport width.
	panned := kcBounds
	panned.West += 0.06
	panned.East += 0.06
	f, err = h.ctrl.Update(ctx, vp(11, panned))
	require.NoError(t, err)
	assert.Equal(t, calls, h.src.total())
	assert.Equal(t, "unchanged", f.Render)
	assert.Empty(t, f.Ops)
	assert.Equal(t, 2, f.Features)

	// A larger move refilters in place.
	far := kcBounds
	far.West += 0.2
	far.East += 0.2
	f, err = h.ctrl.Update(ctx, vp(11, far))
	require.NoError(t, err)
	assert.Equal(t, "updated", f.Render)
	assert.Equal(t, []string{"setData:zip-source"}, opStrings(f.Ops))
}

func TestController_VariableChangeClearsCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.ctrl.SelectVariable(ctx, homeValue.ID)
	require.NoError(t, err)

	f, err := h.ctrl.Update(ctx, vp(8, kcBounds))
	require.NoError(t, err)
	assert.Equal(t, "county_KS-MO", f.CacheKey)
	_, warm := h.ctrl.Store().Cached(metric.NewCacheKey(geo.County, []string{"KS", "MO"}))
	assert.True(t, warm)

	f, err = h.ctrl.SelectVariable(ctx, rentYoY.ID)
	require.NoError(t, err)
	assert.Equal(t, "county_KS-MO", f.CacheKey)
	assert.Equal(t, "rebuilt", f.Render)
	assert.Equal(t, 1, h.src.calls["2:county:KS-MO"], "fresh fetch for the new variable")
	assert.Equal(t, metric.UnitPercent, f.Legend.Unit)

	ops := opStrings(f.Ops)
	assert.Contains(t, ops, "removeLayer:county-fill")
	assert.Contains(t, ops, "addLayer:county-fill")
}

func TestController_MetroUnavailableNoticeOnce(t *testing.T) {
	h := newHarness(t)
	h.geo.fail[geo.Metro] = true
	ctx := context.Background()
	_, err := h.ctrl.SelectVariable(ctx, homeValue.ID)
	require.NoError(t, err)

	f, err := h.ctrl.Update(ctx, vp(6, kcBounds))
	require.NoError(t, err)
	assert.Equal(t, StatusUnavailable, f.Status)
	assert.Equal(t, []string{MetroUnavailableNotice}, f.Notices)
	assert.Empty(t, h.ctrl.Scene().Layers())

	_, err = h.ctrl.Update(ctx, vp(8, kcBounds))
	require.NoError(t, err)
	f, err = h.ctrl.Update(ctx, vp(6, kcBounds))
	require.NoError(t, err)
	assert.Equal(t, StatusUnavailable, f.Status)
	assert.Empty(t, f.Notices)
	assert.Empty(t, h.ctrl.Scene().Layers(), "county layers removed on leaving county")
}

func TestController_MetroJoinsMSA(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.ctrl.SelectVariable(ctx, homeValue.ID)
	require.NoError(t, err)

	f, err := h.ctrl.Update(ctx, vp(6, kcBounds))
	require.NoError(t, err)
	assert.Equal(t, "metro", f.CacheKey)
	assert.Equal(t, 1, f.Joined)
}

func TestController_PointerTooltip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.ctrl.SelectVariable(ctx, homeValue.ID)
	require.NoError(t, err)
	_, err = h.ctrl.Update(ctx, vp(8, kcBounds))
	require.NoError(t, err)

	res := h.ctrl.PointerMove(Pointer{Lng: -94.9, Lat: 38.8, X: 120, Y: 80})
	assert.Equal(t, choropleth.CursorPointer, res.Cursor)
	require.NotNil(t, res.Tooltip)
	assert.Equal(t, "Johnson", res.Tooltip.Name)
	assert.Equal(t, "$300,000", res.Tooltip.Value)
	assert.Equal(t, "2025-06-01", res.Tooltip.Date)
	assert.Equal(t, 120.0, res.Tooltip.X)
	assert.Equal(t, []string{"setFeatureState:county-source"}, opStrings(res.Ops))

	h.ctrl.SetShowTooltip(false)
	res = h.ctrl.PointerMove(Pointer{Lng: -94.4, Lat: 39.0})
	assert.Equal(t, choropleth.CursorPointer, res.Cursor)
	assert.Nil(t, res.Tooltip)
	assert.Len(t, res.Ops, 2, "old highlight cleared, new one set")

	res = h.ctrl.PointerMove(Pointer{Lng: -80, Lat: 30})
	assert.Equal(t, choropleth.CursorDefault, res.Cursor)

	res = h.ctrl.PointerLeave()
	assert.Equal(t, choropleth.CursorDefault, res.Cursor)
	assert.Empty(t, res.Ops)
}

func TestController_LeavingZipResetsWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.ctrl.SelectVariable(ctx, homeValue.ID)
	require.NoError(t, err)

	_, err = h.ctrl.Update(ctx, vp(11, kcBounds))
	require.NoError(t, err)
	_, err = h.ctrl.Update(ctx, vp(9, kcBounds))
	require.NoError(t, err)
	assert.Nil(t, h.ctrl.zipSet)
	_, marked := h.ctrl.zipWindow.Last()
	assert.False(t, marked)
	assert.Equal(t, []string{"county-fill", "county-outline", "county-labels"}, h.ctrl.Scene().Layers())
}
