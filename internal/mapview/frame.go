package mapview

import (
	"github.com/sells-group/market-atlas/internal/choropleth"
	"github.com/sells-group/market-atlas/internal/geo"
	"github.com/sells-group/market-atlas/internal/metric"
)

// Status describes what the current frame shows.
type Status string

// Frame statuses.
const (
	StatusNoViewport     Status = "no_viewport"
	StatusSelectVariable Status = "select_variable"
	StatusLoading        Status = "loading"
	StatusUnavailable    Status = "unavailable"
	StatusError          Status = "error"
	StatusReady          Status = "ready"
)

// Frame is the result of one controller step: the level indicator, legend,
// notices, and the surface operations the client must apply.
type Frame struct {
	Resolution geo.Resolution  `json:"resolution"`
	Level      string          `json:"level"`
	ZoomHint   string          `json:"zoom_hint"`
	Status     Status          `json:"status"`
	CacheKey   string          `json:"cache_key,omitempty"`
	Render     string          `json:"render,omitempty"`
	Features   int             `json:"features"`
	Joined     int             `json:"joined"`
	Legend     *Legend         `json:"legend,omitempty"`
	Notices    []string        `json:"notices,omitempty"`
	Ops        []choropleth.Op `json:"ops"`
}

// Legend describes the active color scale.
type Legend struct {
	Variable  string           `json:"variable"`
	Unit      metric.Unit      `json:"unit"`
	Vendor    string           `json:"vendor,omitempty"`
	Min       string           `json:"min"`
	Max       string           `json:"max"`
	Date      string           `json:"date,omitempty"`
	Range     choropleth.Range `json:"range"`
	LowColor  string           `json:"low_color"`
	MidColor  string           `json:"mid_color"`
	HighColor string           `json:"high_color"`
}

func newLegend(v metric.Variable, lookup choropleth.Lookup, rng choropleth.Range) *Legend {
	unit := v.Unit()
	pre := v.PreScaledPercent()
	l := &Legend{
		Variable:  v.Label,
		Unit:      unit,
		Vendor:    v.Vendor(),
		Min:       choropleth.NoDataLabel,
		Max:       choropleth.NoDataLabel,
		Range:     rng,
		LowColor:  choropleth.Blue.Hex(),
		MidColor:  choropleth.White.Hex(),
		HighColor: choropleth.Red.Hex(),
	}
	if len(lookup) > 0 {
		l.Min = choropleth.FormatValue(rng.ActualMin, unit, pre)
		l.Max = choropleth.FormatValue(rng.ActualMax, unit, pre)
	}
	if d, ok := lookup.Latest(); ok {
		l.Date = d.Format(metric.DateLayout)
	}
	return l
}

// Pointer is a pointer position in map and screen coordinates.
type Pointer struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
}

// Tooltip is the hover payload for one feature.
type Tooltip struct {
	Key   string  `json:"key"`
	Name  string  `json:"name"`
	Value string  `json:"value"`
	Date  string  `json:"date,omitempty"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// PointerResult is the outcome of a pointer event.
type PointerResult struct {
	Cursor  string          `json:"cursor"`
	Tooltip *Tooltip        `json:"tooltip,omitempty"`
	Ops     []choropleth.Op `json:"ops"`
}
