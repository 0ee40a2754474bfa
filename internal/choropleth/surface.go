package choropleth

import (
	"github.com/twpayne/go-geom/encoding/geojson"
)

// Layer types.
const (
	LayerFill   = "fill"
	LayerLine   = "line"
	LayerSymbol = "symbol"
)

// SourceSpec describes a GeoJSON source.
type SourceSpec struct {
	Data *geojson.FeatureCollection `json:"data"`
	// PromoteID names the property used as the feature id for feature state.
	PromoteID string `json:"promoteId,omitempty"`
}

// LayerSpec describes one style layer.
type LayerSpec struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Source  string         `json:"source"`
	Paint   map[string]any `json:"paint,omitempty"`
	Layout  map[string]any `json:"layout,omitempty"`
	MinZoom float64        `json:"minzoom,omitempty"`
}

// RenderedFeature is a feature hit by a rendered-feature query.
type RenderedFeature struct {
	Layer      string         `json:"layer"`
	Source     string         `json:"source"`
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
}

// Surface is the host map engine the layers are drawn on. Calls are
// synchronous and issued from a single goroutine per map.
type Surface interface {
	HasSource(id string) bool
	AddSource(id string, spec SourceSpec)
	SetData(id string, data *geojson.FeatureCollection) bool
	RemoveSource(id string)

	HasLayer(id string) bool
	AddLayer(spec LayerSpec)
	RemoveLayer(id string)

	SetFeatureState(source, featureID string, state map[string]any)
	QueryRenderedFeatures(lng, lat float64, layers []string) []RenderedFeature
}
