package choropleth

import (
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/market-atlas/internal/boundary"
	"github.com/sells-group/market-atlas/internal/geo"
	"github.com/sells-group/market-atlas/internal/metric"
)

// Feature properties written by the renderer.
const (
	PropValue = "value"
	PropColor = "color"
	PropDate  = "date"
)

// HoverState is the feature-state flag toggled by Hover.
const HoverState = "hover"

// IDs returns the source and layer ids used for res.
func IDs(res geo.Resolution) (source, fill, outline, labels, labelPoints string) {
	p := res.String()
	return p + "-source", p + "-fill", p + "-outline", p + "-labels", p + "-label-points"
}

// FillLayerID returns the fill layer id for res.
func FillLayerID(res geo.Resolution) string {
	_, fill, _, _, _ := IDs(res)
	return fill
}

// SourceID returns the polygon source id for res.
func SourceID(res geo.Resolution) string {
	src, _, _, _, _ := IDs(res)
	return src
}

// usesLabelPoints reports whether labels are anchored on synthetic points
// instead of the polygons themselves.
func usesLabelPoints(res geo.Resolution) bool {
	return res == geo.National || res == geo.State
}

// RenderInput is everything one render pass needs.
type RenderInput struct {
	Features *boundary.FeatureSet
	Lookup   Lookup
	Range    Range
	Variable metric.Variable
}

// RenderMode says what a render pass did.
type RenderMode string

// Render modes.
const (
	RenderSkipped RenderMode = "skipped"
	RenderUpdated RenderMode = "updated"
	RenderRebuilt RenderMode = "rebuilt"
)

// LayerManager owns the source and layers of one resolution:
// absent, present for a variable, refreshed in place while the variable is
// unchanged, rebuilt when it changes, and removed.
type LayerManager struct {
	res     geo.Resolution
	surface Surface

	present  bool
	variable int64
}

// NewLayerManager creates a manager for res drawing on surface.
func NewLayerManager(res geo.Resolution, surface Surface) *LayerManager {
	return &LayerManager{res: res, surface: surface}
}

// Resolution returns the managed resolution.
func (m *LayerManager) Resolution() geo.Resolution { return m.res }

// Present reports whether layers are drawn.
func (m *LayerManager) Present() bool { return m.present }

// Variable returns the variable id the layers were built for.
func (m *LayerManager) Variable() int64 { return m.variable }

// Render draws in. When the source exists and the variable is unchanged
// only the source data is replaced; otherwise everything is rebuilt.
func (m *LayerManager) Render(in RenderInput) RenderMode {
	if in.Features == nil {
		return RenderSkipped
	}
	srcID, fillID, outlineID, labelsID, pointsID := IDs(m.res)
	data := Collection(in)

	if m.present && m.variable == in.Variable.ID && m.surface.HasSource(srcID) {
		m.surface.SetData(srcID, data)
		if usesLabelPoints(m.res) {
			m.surface.SetData(pointsID, labelCollection(in))
		}
		return RenderUpdated
	}

	m.Remove()

	m.surface.AddSource(srcID, SourceSpec{Data: data, PromoteID: boundary.PropKey})
	labelSource := srcID
	if usesLabelPoints(m.res) {
		m.surface.AddSource(pointsID, SourceSpec{Data: labelCollection(in), PromoteID: boundary.PropKey})
		labelSource = pointsID
	}

	m.surface.AddLayer(LayerSpec{
		ID:     fillID,
		Type:   LayerFill,
		Source: srcID,
		Paint: map[string]any{
			"fill-color": []any{"get", PropColor},
			"fill-opacity": []any{"case",
				[]any{"boolean", []any{"feature-state", HoverState}, false}, 0.9,
				0.7,
			},
		},
	})
	m.surface.AddLayer(LayerSpec{
		ID:     outlineID,
		Type:   LayerLine,
		Source: srcID,
		Paint: map[string]any{
			"line-color": []any{"case",
				[]any{"boolean", []any{"feature-state", HoverState}, false}, "#111827",
				"#6B7280",
			},
			"line-width": []any{"case",
				[]any{"boolean", []any{"feature-state", HoverState}, false}, 2,
				0.5,
			},
		},
	})

	unit := in.Variable.Unit()
	m.surface.AddLayer(LayerSpec{
		ID:     labelsID,
		Type:   LayerSymbol,
		Source: labelSource,
		Layout: map[string]any{
			"text-field": []any{"concat",
				[]any{"get", boundary.PropName}, "\n",
				valueTextExpr(unit, in.Variable.PreScaledPercent()),
			},
			"text-size":          11,
			"text-allow-overlap": false,
		},
		Paint: map[string]any{
			"text-color":      "#111827",
			"text-halo-color": "#FFFFFF",
			"text-halo-width": 1,
		},
	})

	m.present = true
	m.variable = in.Variable.ID
	return RenderRebuilt
}

// Remove deletes every layer and source of this resolution.
func (m *LayerManager) Remove() {
	srcID, fillID, outlineID, labelsID, pointsID := IDs(m.res)
	for _, id := range []string{labelsID, outlineID, fillID} {
		if m.surface.HasLayer(id) {
			m.surface.RemoveLayer(id)
		}
	}
	for _, id := range []string{pointsID, srcID} {
		if m.surface.HasSource(id) {
			m.surface.RemoveSource(id)
		}
	}
	m.present = false
	m.variable = 0
}

// Collection builds the polygon source data with the joined value, fill
// color, and date on each feature.
func Collection(in RenderInput) *geojson.FeatureCollection {
	return in.Features.GeoJSON(func(f *boundary.Feature) map[string]any {
		return joinedProps(in, f.Key)
	})
}

func joinedProps(in RenderInput, key string) map[string]any {
	v, ok := in.Lookup[key]
	if !ok {
		return map[string]any{PropColor: NoData.Hex()}
	}
	return map[string]any{
		PropValue: v.Value,
		PropColor: ColorFor(v.Value, in.Range.Min, in.Range.Max).Hex(),
		PropDate:  v.Date.Format(metric.DateLayout),
	}
}

func labelCollection(in RenderInput) *geojson.FeatureCollection {
	points := boundary.LabelPoints(in.Features)
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(points))}
	for _, p := range points {
		props := joinedProps(in, p.Key)
		props[boundary.PropKey] = p.Key
		props[boundary.PropName] = p.Name
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         p.Key,
			Geometry:   geom.NewPointFlat(geom.XY, []float64{p.Lng, p.Lat}),
			Properties: props,
		})
	}
	return fc
}
