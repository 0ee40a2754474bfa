// Package boundary loads, normalizes, and spatially filters the static
// GeoJSON boundary assets drawn under the choropleth.
package boundary

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/market-atlas/internal/geo"
)

// Property names written onto every normalized feature.
const (
	PropKey  = "key"
	PropName = "name"
)

// NationalKey is the join key of the single whole-country feature.
const NationalKey = "US"

// Feature is one boundary polygon with its resolution-specific join key.
type Feature struct {
	Key        string
	Name       string
	Geometry   geom.T
	Properties map[string]any
}

// FeatureSet is the boundary geometry for exactly one resolution.
type FeatureSet struct {
	Resolution geo.Resolution
	Features   []*Feature
}

// Len returns the number of features, tolerating a nil set.
func (s *FeatureSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Features)
}

// ByKey returns the first feature with the given join key.
func (s *FeatureSet) ByKey(key string) (*Feature, bool) {
	if s == nil {
		return nil, false
	}
	for _, f := range s.Features {
		if f.Key == key {
			return f, true
		}
	}
	return nil, false
}

// GeoJSON converts the set to a go-geom FeatureCollection. extra, when
// non-nil, supplies additional properties per feature (joined values, fill
// colors). Feature ids are the join keys so hover state can address them.
func (s *FeatureSet) GeoJSON(extra func(*Feature) map[string]any) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{}
	if s == nil {
		return fc
	}
	fc.Features = make([]*geojson.Feature, 0, len(s.Features))
	for _, f := range s.Features {
		props := make(map[string]any, len(f.Properties)+4)
		for k, v := range f.Properties {
			props[k] = v
		}
		props[PropKey] = f.Key
		props[PropName] = f.Name
		if extra != nil {
			for k, v := range extra(f) {
				props[k] = v
			}
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         f.Key,
			Geometry:   f.Geometry,
			Properties: props,
		})
	}
	return fc
}

// rawCollection is either a FeatureCollection or a bare GeometryCollection.
type rawCollection struct {
	Type       string            `json:"type"`
	Features   []json.RawMessage `json:"features"`
	Geometries []json.RawMessage `json:"geometries"`
}

// rawFeature decodes the feature envelope without committing to an id type.
type rawFeature struct {
	ID         any             `json:"id"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

// Parse decodes a boundary asset for the given resolution. Geometry
// collections are normalized into features, and features with missing or
// malformed geometry are skipped.
func Parse(res geo.Resolution, data []byte) (*FeatureSet, error) {
	var raw rawCollection
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrapf(err, "boundary: decode %s asset", res)
	}

	var envelopes []rawFeature
	switch raw.Type {
	case "FeatureCollection":
		for i, msg := range raw.Features {
			var rf rawFeature
			if err := json.Unmarshal(msg, &rf); err != nil {
				zap.L().Debug("boundary: skipping malformed feature", zap.Stringer("resolution", res), zap.Int("index", i), zap.Error(err))
				continue
			}
			envelopes = append(envelopes, rf)
		}
	case "GeometryCollection":
		envelopes = normalizeGeometryCollection(raw.Geometries)
	default:
		return nil, eris.Errorf("boundary: unsupported %s asset type %q", res, raw.Type)
	}

	set := &FeatureSet{Resolution: res, Features: make([]*Feature, 0, len(envelopes))}
	skipped := 0
	for _, rf := range envelopes {
		f, ok := buildFeature(res, rf)
		if !ok {
			skipped++
			continue
		}
		set.Features = append(set.Features, f)
	}
	if skipped > 0 {
		zap.L().Debug("boundary: skipped features", zap.Stringer("resolution", res), zap.Int("skipped", skipped))
	}
	return set, nil
}

// normalizeGeometryCollection wraps each bare geometry in a feature
// envelope. Some exports carry id/properties on the geometry object itself.
func normalizeGeometryCollection(geoms []json.RawMessage) []rawFeature {
	out := make([]rawFeature, 0, len(geoms))
	for _, msg := range geoms {
		var meta struct {
			ID         any            `json:"id"`
			Properties map[string]any `json:"properties"`
		}
		_ = json.Unmarshal(msg, &meta)
		out = append(out, rawFeature{ID: meta.ID, Geometry: msg, Properties: meta.Properties})
	}
	return out
}

func buildFeature(res geo.Resolution, rf rawFeature) (*Feature, bool) {
	if len(rf.Geometry) == 0 || string(rf.Geometry) == "null" {
		return nil, false
	}
	var g geom.T
	if err := geojson.Unmarshal(rf.Geometry, &g); err != nil || g == nil {
		return nil, false
	}
	switch g.(type) {
	case *geom.Polygon, *geom.MultiPolygon:
	default:
		return nil, false
	}

	props := rf.Properties
	if props == nil {
		props = map[string]any{}
	}

	key, name := identify(res, props, rf.ID)
	if key == "" {
		return nil, false
	}
	return &Feature{Key: key, Name: name, Geometry: g, Properties: props}, true
}

// identify derives the join key and display name for a feature.
func identify(res geo.Resolution, props map[string]any, id any) (string, string) {
	name := propString(props, "NAME", "name", "Name", "NAMELSAD")
	switch res {
	case geo.National:
		if name == "" {
			name = "United States"
		}
		return NationalKey, name

	case geo.State:
		if name == "" {
			name = propString(props, "STATE_NAME", "state_name")
		}
		return name, name

	case geo.Metro:
		code := propString(props, "CBSAFP", "cbsa_code", "CBSA", "cbsa", "GEOID")
		if code == "" {
			code = scalarString(id)
		}
		return strings.TrimSpace(code), metroDisplayName(name)

	case geo.County:
		fips := CountyFIPS(props)
		if fips == "" {
			fips = PadDigits(scalarString(id), 5)
		}
		return fips, name

	case geo.Zip:
		zcta := propString(props, "ZCTA5CE20", "ZCTA5CE10", "GEOID20", "ZCTA5", "zcta", "ZCTA", "GEOID")
		if zcta == "" {
			zcta = scalarString(id)
		}
		zcta = PadDigits(zcta, 5)
		return zcta, zcta
	}
	return "", name
}

// metroDisplayName strips the trailing state suffix ("Austin-Round Rock, TX").
func metroDisplayName(name string) string {
	first, _, _ := strings.Cut(name, ",")
	return strings.TrimSpace(first)
}

// CountyFIPS returns the 5-digit county FIPS, reconstructing it from the
// separate state and county fields when no combined code is present.
func CountyFIPS(props map[string]any) string {
	if v := propString(props, "GEOID", "geoid", "fips", "FIPS"); v != "" {
		if p := PadDigits(v, 5); len(p) == 5 {
			return p
		}
	}
	state := propString(props, "STATEFP", "STATE", "state_fips")
	county := propString(props, "COUNTYFP", "COUNTY", "county_fips")
	if state == "" || county == "" {
		return ""
	}
	return PadDigits(state, 2) + PadDigits(county, 3)
}

// PadDigits left-pads purely numeric codes with zeros to width.
func PadDigits(s string, width int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return s
		}
	}
	if len(s) < width {
		s = strings.Repeat("0", width-len(s)) + s
	}
	return s
}

func propString(props map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := props[k]; ok {
			if s := scalarString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == math.Trunc(t) {
			return strconv.FormatFloat(t, 'f', 0, 64)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
