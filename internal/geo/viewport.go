package geo

import (
	_ "embed"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed states.yaml
var statesYAML []byte

// Bounds is a lng/lat rectangle as reported by the map (west/south/east/north).
type Bounds struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// Valid reports whether the bounds are finite and non-inverted.
func (b Bounds) Valid() bool {
	for _, v := range []float64{b.West, b.South, b.East, b.North} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.West <= b.East && b.South <= b.North
}

// Overlaps reports whether two rectangles share any area or edge.
func (b Bounds) Overlaps(o Bounds) bool {
	return b.West <= o.East && b.East >= o.West && b.South <= o.North && b.North >= o.South
}

// Contains reports whether the point lies inside the rectangle (inclusive).
func (b Bounds) Contains(lng, lat float64) bool {
	return lng >= b.West && lng <= b.East && lat >= b.South && lat <= b.North
}

// Buffer returns the bounds grown by deg degrees on every side.
func (b Bounds) Buffer(deg float64) Bounds {
	return Bounds{West: b.West - deg, South: b.South - deg, East: b.East + deg, North: b.North + deg}
}

// Width returns the longitudinal extent in degrees.
func (b Bounds) Width() float64 { return b.East - b.West }

// Height returns the latitudinal extent in degrees.
func (b Bounds) Height() float64 { return b.North - b.South }

// Center returns the rectangle's midpoint as (lng, lat).
func (b Bounds) Center() (float64, float64) {
	return (b.West + b.East) / 2, (b.South + b.North) / 2
}

// Viewport is the camera state reported by the host map.
type Viewport struct {
	Zoom   float64 `json:"zoom"`
	Lng    float64 `json:"lng"`
	Lat    float64 `json:"lat"`
	Bounds Bounds  `json:"bounds"`
}

// StateBox is one row of the state bounding-box table.
type StateBox struct {
	Abbr  string  `yaml:"abbr"`
	Name  string  `yaml:"name"`
	West  float64 `yaml:"west"`
	South float64 `yaml:"south"`
	East  float64 `yaml:"east"`
	North float64 `yaml:"north"`
}

// Bounds returns the state's rectangle.
func (s StateBox) Bounds() Bounds {
	return Bounds{West: s.West, South: s.South, East: s.East, North: s.North}
}

var (
	statesOnce sync.Once
	stateBoxes []StateBox
	statesErr  error
)

// States returns the embedded state bounding-box table.
func States() ([]StateBox, error) {
	statesOnce.Do(func() {
		var doc struct {
			States []StateBox `yaml:"states"`
		}
		if err := yaml.Unmarshal(statesYAML, &doc); err != nil {
			statesErr = eris.Wrap(err, "geo: parse state table")
			return
		}
		stateBoxes = doc.States
	})
	return stateBoxes, statesErr
}

// StateName returns the full name for a two-letter abbreviation.
func StateName(abbr string) (string, bool) {
	boxes, err := States()
	if err != nil {
		return "", false
	}
	abbr = strings.ToUpper(strings.TrimSpace(abbr))
	for _, s := range boxes {
		if s.Abbr == abbr {
			return s.Name, true
		}
	}
	return "", false
}

// StatesInViewport returns the sorted abbreviations of every state whose
// bounding box overlaps the viewport. It returns an empty slice when the
// bounds are unusable or the state table cannot be read; callers then fall
// back to an unscoped fetch.
func StatesInViewport(b Bounds) []string {
	if !b.Valid() {
		return []string{}
	}
	boxes, err := States()
	if err != nil {
		zap.L().Warn("geo: state table unavailable", zap.Error(err))
		return []string{}
	}

	out := make([]string, 0, 8)
	for _, s := range boxes {
		if s.Bounds().Overlaps(b) {
			out = append(out, s.Abbr)
		}
	}
	sort.Strings(out)
	return out
}
