package choropleth

import (
	"sort"
	"sync"

	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/market-atlas/internal/boundary"
)

// Op kinds recorded by Scene.
const (
	OpAddSource       = "addSource"
	OpSetData         = "setData"
	OpRemoveSource    = "removeSource"
	OpAddLayer        = "addLayer"
	OpRemoveLayer     = "removeLayer"
	OpSetFeatureState = "setFeatureState"
)

// Op is one recorded surface mutation, replayed by the browser map.
type Op struct {
	Op        string                     `json:"op"`
	ID        string                     `json:"id"`
	Source    *SourceSpec                `json:"source,omitempty"`
	Data      *geojson.FeatureCollection `json:"data,omitempty"`
	Layer     *LayerSpec                 `json:"layer,omitempty"`
	FeatureID string                     `json:"feature_id,omitempty"`
	State     map[string]any             `json:"state,omitempty"`
}

// Scene is an in-memory Surface. It keeps the current sources, layers, and
// feature state of one map and journals every mutation so the client can
// apply the same changes.
type Scene struct {
	mu      sync.Mutex
	sources map[string]SourceSpec
	layers  []LayerSpec
	states  map[string]map[string]map[string]any
	journal []Op
}

// NewScene creates an empty scene.
func NewScene() *Scene {
	return &Scene{
		sources: make(map[string]SourceSpec),
		states:  make(map[string]map[string]map[string]any),
	}
}

// HasSource implements Surface.
func (s *Scene) HasSource(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sources[id]
	return ok
}

// AddSource implements Surface. Adding an existing id is ignored.
func (s *Scene) AddSource(id string, spec SourceSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[id]; ok {
		return
	}
	s.sources[id] = spec
	s.journal = append(s.journal, Op{Op: OpAddSource, ID: id, Source: &spec})
}

// SetData implements Surface. It reports false when the source is missing.
func (s *Scene) SetData(id string, data *geojson.FeatureCollection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	spec, ok := s.sources[id]
	if !ok {
		return false
	}
	spec.Data = data
	s.sources[id] = spec
	s.journal = append(s.journal, Op{Op: OpSetData, ID: id, Data: data})
	return true
}

// RemoveSource implements Surface. Layers still using the source are
// removed first.
func (s *Scene) RemoveSource(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[id]; !ok {
		return
	}
	kept := s.layers[:0]
	for _, l := range s.layers {
		if l.Source == id {
			s.journal = append(s.journal, Op{Op: OpRemoveLayer, ID: l.ID})
			continue
		}
		kept = append(kept, l)
	}
	s.layers = kept
	delete(s.sources, id)
	delete(s.states, id)
	s.journal = append(s.journal, Op{Op: OpRemoveSource, ID: id})
}

// HasLayer implements Surface.
func (s *Scene) HasLayer(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layerIndex(id) >= 0
}

// AddLayer implements Surface. Layers referencing a missing source or
// duplicating an id are ignored.
func (s *Scene) AddLayer(spec LayerSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.layerIndex(spec.ID) >= 0 {
		return
	}
	if _, ok := s.sources[spec.Source]; !ok {
		return
	}
	s.layers = append(s.layers, spec)
	s.journal = append(s.journal, Op{Op: OpAddLayer, ID: spec.ID, Layer: &spec})
}

// RemoveLayer implements Surface.
func (s *Scene) RemoveLayer(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.layerIndex(id)
	if i < 0 {
		return
	}
	s.layers = append(s.layers[:i], s.layers[i+1:]...)
	s.journal = append(s.journal, Op{Op: OpRemoveLayer, ID: id})
}

func (s *Scene) layerIndex(id string) int {
	for i, l := range s.layers {
		if l.ID == id {
			return i
		}
	}
	return -1
}

// SetFeatureState implements Surface. State keys are merged.
func (s *Scene) SetFeatureState(source, featureID string, state map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[source]; !ok || featureID == "" {
		return
	}
	byFeature, ok := s.states[source]
	if !ok {
		byFeature = make(map[string]map[string]any)
		s.states[source] = byFeature
	}
	cur, ok := byFeature[featureID]
	if !ok {
		cur = make(map[string]any, len(state))
		byFeature[featureID] = cur
	}
	for k, v := range state {
		cur[k] = v
	}
	s.journal = append(s.journal, Op{Op: OpSetFeatureState, ID: source, FeatureID: featureID, State: state})
}

// FeatureState returns a copy of the state of one feature.
func (s *Scene) FeatureState(source, featureID string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any)
	for k, v := range s.states[source][featureID] {
		out[k] = v
	}
	return out
}

// QueryRenderedFeatures implements Surface by point-in-polygon tests against
// the features of fill layers, topmost layer first. An empty layers list
// queries every fill layer.
func (s *Scene) QueryRenderedFeatures(lng, lat float64, layers []string) []RenderedFeature {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]bool, len(layers))
	for _, id := range layers {
		want[id] = true
	}

	var out []RenderedFeature
	for i := len(s.layers) - 1; i >= 0; i-- {
		l := s.layers[i]
		if l.Type != LayerFill || (len(want) > 0 && !want[l.ID]) {
			continue
		}
		src, ok := s.sources[l.Source]
		if !ok || src.Data == nil {
			continue
		}
		for _, f := range src.Data.Features {
			if f.Geometry == nil || !boundary.ContainsPoint(f.Geometry, lng, lat) {
				continue
			}
			props := make(map[string]any, len(f.Properties))
			for k, v := range f.Properties {
				props[k] = v
			}
			out = append(out, RenderedFeature{Layer: l.ID, Source: l.Source, ID: f.ID, Properties: props})
		}
	}
	return out
}

// Sources returns the source ids, sorted.
func (s *Scene) Sources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sources))
	for id := range s.sources {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Source returns a source spec.
func (s *Scene) Source(id string) (SourceSpec, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	spec, ok := s.sources[id]
	return spec, ok
}

// Layers returns the layer ids in draw order.
func (s *Scene) Layers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.layers))
	for i, l := range s.layers {
		out[i] = l.ID
	}
	return out
}

// Drain returns and clears the journal.
func (s *Scene) Drain() []Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := s.journal
	s.journal = nil
	return ops
}

// Reset drops every source and layer, journaling the removals.
func (s *Scene) Reset() {
	for _, id := range s.Sources() {
		s.RemoveSource(id)
	}
}
