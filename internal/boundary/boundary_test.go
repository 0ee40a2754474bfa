package boundary

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/market-atlas/internal/geo"
)

const statesFC = `{
  "type": "FeatureCollection",
  "features": [
    {"type":"Feature","id":48,"properties":{"NAME":"Texas"},
     "geometry":{"type":"Polygon","coordinates":[[[-106,26],[-94,26],[-94,36],[-106,36],[-106,26]]]}},
    {"type":"Feature","properties":{"NAME":"Hawaii"},
     "geometry":{"type":"MultiPolygon","coordinates":[
       [[[-156,19],[-155,19],[-155,20],[-156,20],[-156,19]]],
       [[[-158,21],[-157.5,21],[-157.5,21.5],[-158,21.5],[-158,21]]]]}},
    {"type":"Feature","properties":{"NAME":"Broken"},"geometry":null},
    {"type":"Feature","properties":{"NAME":"Line"},
     "geometry":{"type":"LineString","coordinates":[[0,0],[1,1]]}}
  ]
}`

const metroGC = `{
  "type": "GeometryCollection",
  "geometries": [
    {"type":"Polygon","id":"12420","properties":{"NAME":"Austin-Round Rock-San Marcos, TX"},
     "coordinates":[[[-98.3,29.8],[-97.2,29.8],[-97.2,30.9],[-98.3,30.9],[-98.3,29.8]]]},
    {"type":"Polygon","properties":{"CBSAFP":" 19100 ","NAME":"Dallas-Fort Worth-Arlington, TX"},
     "coordinates":[[[-98,32],[-96,32],[-96,33.5],[-98,33.5],[-98,32]]]},
    {"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}
  ]
}`

func square(minX, minY, maxX, maxY float64) *geom.Polygon {
	return geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}})
}

func TestParse_FeatureCollectionSkipsMalformed(t *testing.T) {
	set, err := Parse(geo.State, []byte(statesFC))
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())

	tx, ok := set.ByKey("Texas")
	require.True(t, ok)
	assert.Equal(t, "Texas", tx.Name)

	hi, ok := set.ByKey("Hawaii")
	require.True(t, ok)
	_, isMulti := hi.Geometry.(*geom.MultiPolygon)
	assert.True(t, isMulti)
}

func TestParse_GeometryCollectionNormalized(t *testing.T) {
	set, err := Parse(geo.Metro, []byte(metroGC))
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())

	austin, ok := set.ByKey("12420")
	require.True(t, ok)
	assert.Equal(t, "Austin-Round Rock-San Marcos", austin.Name)

	dfw, ok := set.ByKey("19100")
	require.True(t, ok)
	assert.Equal(t, "Dallas-Fort Worth-Arlington", dfw.Name)
}

func TestParse_UnsupportedType(t *testing.T) {
	_, err := Parse(geo.State, []byte(`{"type":"Topology"}`))
	require.Error(t, err)

	_, err = Parse(geo.State, []byte(`not json`))
	require.Error(t, err)
}

func TestParse_CountyFIPSReconstructed(t *testing.T) {
	doc := `{"type":"FeatureCollection","features":[
	  {"type":"Feature","properties":{"STATEFP":"6","COUNTYFP":"37","NAME":"Los Angeles"},
	   "geometry":{"type":"Polygon","coordinates":[[[-119,33],[-117,33],[-117,35],[-119,35],[-119,33]]]}},
	  {"type":"Feature","properties":{"GEOID":"48453","NAME":"Travis"},
	   "geometry":{"type":"Polygon","coordinates":[[[-98,30],[-97,30],[-97,31],[-98,31],[-98,30]]]}},
	  {"type":"Feature","properties":{"fips":1001,"NAME":"Autauga"},
	   "geometry":{"type":"Polygon","coordinates":[[[-87,32],[-86,32],[-86,33],[-87,33],[-87,32]]]}}
	]}`
	set, err := Parse(geo.County, []byte(doc))
	require.NoError(t, err)

	var keys []string
	for _, f := range set.Features {
		keys = append(keys, f.Key)
	}
	assert.Equal(t, []string{"06037", "48453", "01001"}, keys)
}

func TestParse_ZipKeys(t *testing.T) {
	doc := `{"type":"FeatureCollection","features":[
	  {"type":"Feature","properties":{"ZCTA5CE20":"78701"},
	   "geometry":{"type":"Polygon","coordinates":[[[-97.75,30.26],[-97.73,30.26],[-97.73,30.28],[-97.75,30.28],[-97.75,30.26]]]}},
	  {"type":"Feature","properties":{"ZCTA5CE10":"501"},
	   "geometry":{"type":"Polygon","coordinates":[[[-73.1,40.8],[-73.0,40.8],[-73.0,40.9],[-73.1,40.9],[-73.1,40.8]]]}}
	]}`
	set, err := Parse(geo.Zip, []byte(doc))
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())
	assert.Equal(t, "78701", set.Features[0].Key)
	assert.Equal(t, "00501", set.Features[1].Key)
}

func TestCountyFIPS(t *testing.T) {
	assert.Equal(t, "48453", CountyFIPS(map[string]any{"GEOID": "48453"}))
	assert.Equal(t, "06037", CountyFIPS(map[string]any{"STATE": "06", "COUNTY": "037"}))
	assert.Equal(t, "", CountyFIPS(map[string]any{"STATE": "06"}))
}

func TestFeatureSet_GeoJSON(t *testing.T) {
	set := &FeatureSet{Resolution: geo.State, Features: []*Feature{
		{Key: "Texas", Name: "Texas", Geometry: square(0, 0, 1, 1), Properties: map[string]any{"NAME": "Texas"}},
	}}
	fc := set.GeoJSON(func(f *Feature) map[string]any {
		return map[string]any{"value": 1.5}
	})
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "Texas", fc.Features[0].ID)
	assert.Equal(t, 1.5, fc.Features[0].Properties["value"])
	assert.Equal(t, "Texas", fc.Features[0].Properties[PropKey])

	data, err := json.Marshal(fc)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"FeatureCollection"`)

	// Source properties are not mutated.
	_, polluted := set.Features[0].Properties["value"]
	assert.False(t, polluted)
}

func TestFilterToViewport(t *testing.T) {
	set := &FeatureSet{Resolution: geo.Zip, Features: []*Feature{
		{Key: "in", Geometry: square(-97.8, 30.2, -97.7, 30.3)},
		{Key: "buffer", Geometry: square(-97.2, 30.2, -97.1, 30.3)},
		{Key: "far", Geometry: square(-80, 40, -79.9, 40.1)},
		{Key: "nil"},
		{Key: "point", Geometry: geom.NewPointFlat(geom.XY, []float64{-97.75, 30.25})},
	}}
	vp := geo.Bounds{West: -98, South: 30, East: -97.6, North: 30.5}

	out := FilterToViewport(set, vp, DefaultBuffer)
	var keys []string
	for _, f := range out.Features {
		keys = append(keys, f.Key)
	}
	assert.Equal(t, []string{"in", "buffer"}, keys)

	strict := FilterToViewport(set, vp, 0)
	assert.Equal(t, 1, strict.Len())
	assert.Nil(t, FilterToViewport(nil, vp, 0))
}

func TestCenterOfMass(t *testing.T) {
	lng, lat, ok := CenterOfMass(square(0, 0, 2, 2))
	require.True(t, ok)
	assert.InDelta(t, 1.0, lng, 1e-9)
	assert.InDelta(t, 1.0, lat, 1e-9)

	// The large polygon dominates the weighted center.
	mp := geom.NewMultiPolygon(geom.XY)
	require.NoError(t, mp.Push(square(0, 0, 10, 10)))
	require.NoError(t, mp.Push(square(100, 100, 101, 101)))
	lng, lat, ok = CenterOfMass(mp)
	require.True(t, ok)
	assert.InDelta(t, (5*100+100.5*1)/101.0, lng, 1e-9)
	assert.InDelta(t, (5*100+100.5*1)/101.0, lat, 1e-9)

	_, _, ok = CenterOfMass(nil)
	assert.False(t, ok)
}

func TestContainsPoint(t *testing.T) {
	donut := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{
		{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}},
		{{4, 4}, {6, 4}, {6, 6}, {4, 6}, {4, 4}},
	})
	assert.True(t, ContainsPoint(donut, 1, 1))
	assert.False(t, ContainsPoint(donut, 5, 5))
	assert.False(t, ContainsPoint(donut, 11, 5))
	assert.False(t, ContainsPoint(nil, 0, 0))
}

func TestLabelPoints_OnePerName(t *testing.T) {
	set, err := Parse(geo.State, []byte(statesFC))
	require.NoError(t, err)
	set.Features = append(set.Features, &Feature{Key: "Texas", Name: "Texas", Geometry: square(-100, 30, -99, 31)})

	pts := LabelPoints(set)
	require.Len(t, pts, 2)
	assert.Equal(t, "Texas", pts[0].Name)
	assert.InDelta(t, -100.0, pts[0].Lng, 1e-9)
	assert.InDelta(t, 31.0, pts[0].Lat, 1e-9)
	assert.Equal(t, "Hawaii", pts[1].Name)
}

func TestWindow_NeedsReload(t *testing.T) {
	var w Window
	base := geo.Bounds{West: -98, South: 30, East: -97, North: 31}
	assert.True(t, w.NeedsReload(base, DefaultReloadThreshold))

	w.Mark(base)
	assert.False(t, w.NeedsReload(base, DefaultReloadThreshold))

	// A pan under 20% of the width stays on the filtered set.
	small := geo.Bounds{West: -97.85, South: 30, East: -96.85, North: 31}
	assert.False(t, w.NeedsReload(small, DefaultReloadThreshold))

	big := geo.Bounds{West: -97.6, South: 30, East: -96.6, North: 31}
	assert.True(t, w.NeedsReload(big, DefaultReloadThreshold))

	zoomedOut := geo.Bounds{West: -98.5, South: 29.5, East: -96.5, North: 31.5}
	assert.True(t, w.NeedsReload(zoomedOut, DefaultReloadThreshold))

	w.Reset()
	_, ok := w.Last()
	assert.False(t, ok)
}

type countingFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	docs  map[string]string
	delay time.Duration
	hits  atomic.Int32
}

func (f *countingFetcher) Download(ctx context.Context, location string) (io.ReadCloser, error) {
	f.hits.Add(1)
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[location]++
	doc, ok := f.docs[location]
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ok {
		return nil, eris.Errorf("not found: %s", location)
	}
	return io.NopCloser(strings.NewReader(doc)), nil
}

func TestLoader_EnsureOnce(t *testing.T) {
	f := &countingFetcher{
		docs:  map[string]string{"geo/us-states.json": statesFC},
		delay: 20 * time.Millisecond,
	}
	l := NewLoader(f, "geo")

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			set, err := l.Ensure(context.Background(), geo.State)
			assert.NoError(t, err)
			assert.Equal(t, 2, set.Len())
		}()
	}
	wg.Wait()

	_, err := l.Ensure(context.Background(), geo.State)
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.hits.Load())
	assert.Equal(t, 1, l.Fetches(geo.State))

	l.Clear(geo.State)
	_, ok := l.Get(geo.State)
	assert.False(t, ok)
	_, err = l.Ensure(context.Background(), geo.State)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.hits.Load())
}

func TestLoader_CancelledCallerDoesNotFailWaiters(t *testing.T) {
	f := &countingFetcher{
		docs:  map[string]string{"geo/us-states.json": statesFC},
		delay: 50 * time.Millisecond,
	}
	l := NewLoader(f, "geo")

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := l.Ensure(ctxA, geo.State)
		errA <- err
	}()
	require.Eventually(t, func() bool { return l.Fetches(geo.State) == 1 }, time.Second, time.Millisecond)

	type result struct {
		set *FeatureSet
		err error
	}
	resB := make(chan result, 1)
	go func() {
		set, err := l.Ensure(context.Background(), geo.State)
		resB <- result{set, err}
	}()

	time.Sleep(10 * time.Millisecond)
	cancelA()

	assert.ErrorContains(t, <-errA, "context canceled")
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, 2, b.set.Len())
	assert.Equal(t, int32(1), f.hits.Load())
	_, ok := l.Get(geo.State)
	assert.True(t, ok)
}

func TestLoader_FailureLeavesEmptyAndRetries(t *testing.T) {
	f := &countingFetcher{docs: map[string]string{}}
	l := NewLoader(f, "geo")

	set, err := l.Ensure(context.Background(), geo.Metro)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrUnavailable))
	assert.Nil(t, set)
	_, ok := l.Get(geo.Metro)
	assert.False(t, ok)

	f.mu.Lock()
	f.docs["geo/us-metros.json"] = metroGC
	f.mu.Unlock()

	set, err = l.Ensure(context.Background(), geo.Metro)
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())
}

func TestLoader_Warm(t *testing.T) {
	f := &countingFetcher{docs: map[string]string{
		"geo/us-states.json": statesFC,
		"geo/us-metros.json": metroGC,
	}}
	l := NewLoader(f, "geo")
	l.Warm(context.Background(), geo.National, geo.State, geo.Metro)

	_, ok := l.Get(geo.State)
	assert.True(t, ok)
	_, ok = l.Get(geo.Metro)
	assert.True(t, ok)
	_, ok = l.Get(geo.National)
	assert.False(t, ok)
}

func TestLoader_InvalidResolution(t *testing.T) {
	l := NewLoader(&countingFetcher{}, "")
	_, err := l.Ensure(context.Background(), geo.Resolution(9))
	assert.Error(t, err)
	assert.Equal(t, "us-zcta.json", l.Location(geo.Zip))
}
