// Package mapview runs the overlay data flow for one map session: resolve
// the level from zoom, scope by visible states, load geometry and metrics,
// join, color, and update the map layers.
package mapview

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/market-atlas/internal/boundary"
	"github.com/sells-group/market-atlas/internal/choropleth"
	"github.com/sells-group/market-atlas/internal/geo"
	"github.com/sells-group/market-atlas/internal/metric"
)

// ErrUnknownVariable is returned when selecting an id not in the catalog.
var ErrUnknownVariable = eris.New("mapview: unknown variable")

// MetroUnavailableNotice is shown once per session when metro geometry
// cannot be loaded.
const MetroUnavailableNotice = "Metro area boundaries are unavailable right now; zoom in or out to see other levels."

// Geometry supplies boundary feature sets per resolution.
type Geometry interface {
	Ensure(ctx context.Context, res geo.Resolution) (*boundary.FeatureSet, error)
}

// Deps are the shared collaborators of every controller.
type Deps struct {
	Catalog  *metric.Catalog
	Geometry Geometry
	Source   metric.Source
}

// Options tune a controller. Zero values select the defaults.
type Options struct {
	PageSize        int
	ZipBuffer       float64
	ReloadThreshold float64
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = metric.DefaultPageSize
	}
	if o.ZipBuffer <= 0 {
		o.ZipBuffer = boundary.DefaultBuffer
	}
	if o.ReloadThreshold <= 0 {
		o.ReloadThreshold = boundary.DefaultReloadThreshold
	}
	return o
}

// renderKey identifies the inputs of the last render so unchanged passes
// issue no surface operations.
type renderKey struct {
	res      geo.Resolution
	key      metric.CacheKey
	variable int64
	features *boundary.FeatureSet
}

// Controller owns the overlay state of one map. Methods are serialized.
type Controller struct {
	mu sync.Mutex

	deps  Deps
	opts  Options
	store *metric.Store
	scene *choropleth.Scene
	hover *choropleth.Hover

	resolver geo.Resolver
	layers   map[geo.Resolution]*choropleth.LayerManager

	viewport    geo.Viewport
	hasViewport bool
	res         geo.Resolution
	variable    *metric.Variable
	showTooltip bool

	zipWindow boundary.Window
	zipSet    *boundary.FeatureSet
	zipStates []string

	metroNoticeShown bool
	lastRender       *renderKey
}

// NewController creates a controller with an empty scene.
func NewController(deps Deps, opts Options) *Controller {
	opts = opts.withDefaults()
	scene := choropleth.NewScene()
	c := &Controller{
		deps:        deps,
		opts:        opts,
		store:       metric.NewStore(deps.Source, opts.PageSize),
		scene:       scene,
		hover:       choropleth.NewHover(scene),
		layers:      make(map[geo.Resolution]*choropleth.LayerManager, len(geo.All)),
		showTooltip: true,
	}
	for _, res := range geo.All {
		c.layers[res] = choropleth.NewLayerManager(res, scene)
	}
	return c
}

// Scene exposes the controller's surface.
func (c *Controller) Scene() *choropleth.Scene { return c.scene }

// Store exposes the controller's metric store.
func (c *Controller) Store() *metric.Store { return c.store }

// Update applies a new viewport and renders.
func (c *Controller) Update(ctx context.Context, vp geo.Viewport) (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, changed := c.resolver.Resolve(vp.Zoom)
	c.viewport = vp
	c.hasViewport = true
	if changed {
		c.enter(res)
	}
	return c.render(ctx), nil
}

// enter switches to res, dropping the layers of every other resolution.
func (c *Controller) enter(res geo.Resolution) {
	prev := c.res
	c.res = res
	c.hover.Leave()
	for r, m := range c.layers {
		if r != res && m.Present() {
			m.Remove()
		}
	}
	if prev == geo.Zip && res != geo.Zip {
		c.zipWindow.Reset()
		c.zipSet = nil
		c.zipStates = nil
	}
	c.lastRender = nil
}

// SelectVariable makes the variable with id active and renders.
func (c *Controller) SelectVariable(ctx context.Context, id int64) (Frame, error) {
	v, ok := c.deps.Catalog.Get(id)
	if !ok {
		return Frame{}, eris.Wrapf(ErrUnknownVariable, "id %d", id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.store.SelectVariable(v)
	c.variable = &v
	c.hover.Leave()
	c.lastRender = nil
	return c.render(ctx), nil
}

// Variable returns the selected variable.
func (c *Controller) Variable() (metric.Variable, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.variable == nil {
		return metric.Variable{}, false
	}
	return *c.variable, true
}

// SetShowTooltip toggles tooltip payloads on pointer moves.
func (c *Controller) SetShowTooltip(show bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.showTooltip = show
}

// ShowTooltip reports the tooltip preference.
func (c *Controller) ShowTooltip() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.showTooltip
}

// Resolution returns the current resolution.
func (c *Controller) Resolution() geo.Resolution {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.res
}

func (c *Controller) baseFrame() Frame {
	return Frame{
		Resolution: c.res,
		Level:      c.res.Label(),
		ZoomHint:   geo.ZoomHint(c.res),
	}
}

// render runs one pass of the data flow. Layers are only (re)built once the
// data for the current resolution and scope is loaded.
func (c *Controller) render(ctx context.Context) (f Frame) {
	f = c.baseFrame()
	defer func() { f.Ops = c.scene.Drain() }()

	if !c.hasViewport {
		f.Status = StatusNoViewport
		return f
	}
	if c.variable == nil {
		f.Status = StatusSelectVariable
		return f
	}
	v := *c.variable
	res := c.res
	log := zap.L().With(zap.Stringer("resolution", res), zap.String("variable", v.Key))

	full, err := c.deps.Geometry.Ensure(ctx, res)
	if err != nil {
		f.Status = StatusUnavailable
		c.layers[res].Remove()
		c.lastRender = nil
		if res == geo.Metro && !c.metroNoticeShown {
			c.metroNoticeShown = true
			f.Notices = append(f.Notices, MetroUnavailableNotice)
		}
		log.Warn("mapview: geometry unavailable", zap.Error(err))
		return f
	}

	features, states := c.scope(full)
	key := metric.NewCacheKey(res, states)
	f.CacheKey = key.String()

	obs, err := c.fetch(ctx, v, key)
	if err != nil {
		switch {
		case eris.Is(err, metric.ErrFetchInFlight), eris.Is(err, metric.ErrSuperseded):
			f.Status = StatusLoading
		default:
			f.Status = StatusError
		}
		return f
	}

	lookup := choropleth.BuildLookup(obs, res)
	rng := choropleth.ComputeRange(lookup.Values())
	f.Features = features.Len()
	f.Joined = countJoined(features, lookup)
	f.Legend = newLegend(v, lookup, rng)
	f.Status = StatusReady

	rk := renderKey{res: res, key: key, variable: v.ID, features: features}
	if c.lastRender != nil && *c.lastRender == rk && c.layers[res].Present() {
		f.Render = "unchanged"
		return f
	}

	mode := c.layers[res].Render(choropleth.RenderInput{
		Features: features,
		Lookup:   lookup,
		Range:    rng,
		Variable: v,
	})
	f.Render = string(mode)
	c.lastRender = &rk
	log.Debug("mapview: rendered",
		zap.String("cache_key", key.String()),
		zap.String("mode", string(mode)),
		zap.Int("features", f.Features),
		zap.Int("joined", f.Joined),
	)
	return f
}

// scope returns the features to draw and the states that scope the metric
// fetch. ZIP features and states are frozen until the viewport moves past
// the reload threshold.
func (c *Controller) scope(full *boundary.FeatureSet) (*boundary.FeatureSet, []string) {
	b := c.viewport.Bounds
	switch c.res {
	case geo.County:
		return full, geo.StatesInViewport(b)
	case geo.Zip:
		if c.zipSet == nil || c.zipWindow.NeedsReload(b, c.opts.ReloadThreshold) {
			if b.Valid() {
				c.zipSet = boundary.FilterToViewport(full, b, c.opts.ZipBuffer)
			} else {
				c.zipSet = full
			}
			c.zipStates = geo.StatesInViewport(b)
			c.zipWindow.Mark(b)
		}
		return c.zipSet, c.zipStates
	default:
		return full, nil
	}
}

// fetch reads the observations for key. National also pulls the state
// entry so a national value can be synthesized.
func (c *Controller) fetch(ctx context.Context, v metric.Variable, key metric.CacheKey) ([]metric.Observation, error) {
	obs, err := c.store.Fetch(ctx, v, key)
	if err != nil || key.Resolution != geo.National {
		return obs, err
	}
	states, err := c.store.Fetch(ctx, v, metric.NewCacheKey(geo.State, nil))
	if err != nil {
		return nil, err
	}
	out := make([]metric.Observation, 0, len(obs)+len(states))
	out = append(out, obs...)
	return append(out, states...), nil
}

func countJoined(set *boundary.FeatureSet, lookup choropleth.Lookup) int {
	if set == nil {
		return 0
	}
	n := 0
	for _, f := range set.Features {
		if _, ok := lookup[f.Key]; ok {
			n++
		}
	}
	return n
}

// PointerMove highlights the feature under the pointer and builds the
// tooltip when enabled.
func (c *Controller) PointerMove(p Pointer) PointerResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	hr := c.hover.Move(p.Lng, p.Lat, []string{choropleth.FillLayerID(c.res)})
	out := PointerResult{Cursor: hr.Cursor}
	if hr.Feature != nil && c.showTooltip && c.variable != nil {
		out.Tooltip = c.tooltip(hr.Feature, p)
	}
	out.Ops = c.scene.Drain()
	return out
}

// PointerLeave clears the highlight.
func (c *Controller) PointerLeave() PointerResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	hr := c.hover.Leave()
	return PointerResult{Cursor: hr.Cursor, Ops: c.scene.Drain()}
}

func (c *Controller) tooltip(rf *choropleth.RenderedFeature, p Pointer) *Tooltip {
	t := &Tooltip{Key: rf.ID, Value: choropleth.NoDataLabel, X: p.X, Y: p.Y}
	if name, ok := rf.Properties[boundary.PropName].(string); ok {
		t.Name = name
	}
	if v, ok := rf.Properties[choropleth.PropValue].(float64); ok {
		t.Value = choropleth.FormatValue(v, c.variable.Unit(), c.variable.PreScaledPercent())
	}
	if d, ok := rf.Properties[choropleth.PropDate].(string); ok {
		t.Date = d
	}
	return t
}
