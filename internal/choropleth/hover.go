package choropleth

// Cursor styles reported to the client.
const (
	CursorPointer = "pointer"
	CursorDefault = ""
)

// HoverResult is the outcome of a pointer event.
type HoverResult struct {
	Feature *RenderedFeature `json:"feature,omitempty"`
	Cursor  string           `json:"cursor"`
}

// Hover tracks the highlighted feature of one map.
type Hover struct {
	surface Surface
	source  string
	feature string
}

// NewHover creates a tracker on surface.
func NewHover(surface Surface) *Hover {
	return &Hover{surface: surface}
}

// Move queries the rendered features at the pointer on layers, clears the
// previous highlight, and highlights the topmost hit.
func (h *Hover) Move(lng, lat float64, layers []string) HoverResult {
	hits := h.surface.QueryRenderedFeatures(lng, lat, layers)
	if len(hits) == 0 {
		h.clear()
		return HoverResult{Cursor: CursorDefault}
	}

	top := hits[0]
	if top.Source != h.source || top.ID != h.feature {
		h.clear()
		h.surface.SetFeatureState(top.Source, top.ID, map[string]any{HoverState: true})
		h.source, h.feature = top.Source, top.ID
	}
	return HoverResult{Feature: &top, Cursor: CursorPointer}
}

// Leave clears the highlight and cursor.
func (h *Hover) Leave() HoverResult {
	h.clear()
	return HoverResult{Cursor: CursorDefault}
}

// Current returns the highlighted source and feature id.
func (h *Hover) Current() (source, feature string) {
	return h.source, h.feature
}

func (h *Hover) clear() {
	if h.feature == "" {
		return
	}
	if h.surface.HasSource(h.source) {
		h.surface.SetFeatureState(h.source, h.feature, map[string]any{HoverState: false})
	}
	h.source, h.feature = "", ""
}
