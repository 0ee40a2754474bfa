package boundary

import (
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"

	"github.com/sells-group/market-atlas/internal/geo"
)

// polygons returns the polygons of a Polygon or MultiPolygon geometry.
func polygons(g geom.T) []*geom.Polygon {
	switch t := g.(type) {
	case *geom.Polygon:
		if t == nil {
			return nil
		}
		return []*geom.Polygon{t}
	case *geom.MultiPolygon:
		if t == nil {
			return nil
		}
		out := make([]*geom.Polygon, 0, t.NumPolygons())
		for i := 0; i < t.NumPolygons(); i++ {
			out = append(out, t.Polygon(i))
		}
		return out
	}
	return nil
}

// outerRings returns the exterior ring coordinates of every polygon.
func outerRings(g geom.T) [][]geom.Coord {
	var rings [][]geom.Coord
	for _, p := range polygons(g) {
		if p.NumLinearRings() == 0 {
			continue
		}
		rings = append(rings, p.LinearRing(0).Coords())
	}
	return rings
}

// IntersectsBounds reports whether any exterior-ring vertex lies inside b.
// Geometries without polygon rings never intersect.
func IntersectsBounds(g geom.T, b geo.Bounds) bool {
	for _, ring := range outerRings(g) {
		for _, c := range ring {
			if len(c) < 2 {
				continue
			}
			if b.Contains(c[0], c[1]) {
				return true
			}
		}
	}
	return false
}

// FilterToViewport keeps the features with at least one exterior vertex
// inside the viewport grown by buffer degrees.
func FilterToViewport(set *FeatureSet, b geo.Bounds, buffer float64) *FeatureSet {
	if set == nil {
		return nil
	}
	area := b.Buffer(buffer)
	out := &FeatureSet{Resolution: set.Resolution, Features: make([]*Feature, 0, len(set.Features)/8)}
	for _, f := range set.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		if IntersectsBounds(f.Geometry, area) {
			out.Features = append(out.Features, f)
		}
	}
	return out
}

// CenterOfMass returns the area-weighted centroid of a polygonal geometry,
// with holes subtracted. Degenerate geometries fall back to the
// bounding-box center.
func CenterOfMass(g geom.T) (lng, lat float64, ok bool) {
	polys := polygons(g)
	var area float64
	for _, p := range polys {
		area += p.Area()
	}
	if area > 0 {
		c := xy.PolygonsCentroid(polys[0], polys[1:]...)
		if !math.IsNaN(c.X()) && !math.IsNaN(c.Y()) {
			return c.X(), c.Y(), true
		}
	}
	if g == nil {
		return 0, 0, false
	}
	b := g.Bounds()
	if b == nil || b.IsEmpty() {
		return 0, 0, false
	}
	return (b.Min(0) + b.Max(0)) / 2, (b.Min(1) + b.Max(1)) / 2, true
}

// ContainsPoint reports whether the point falls inside (or on the edge of)
// any polygon of g and outside that polygon's holes.
func ContainsPoint(g geom.T, lng, lat float64) bool {
	pt := geom.Coord{lng, lat}
	for _, p := range polygons(g) {
		if p.NumLinearRings() == 0 {
			continue
		}
		layout := p.Layout()
		if !xy.IsPointInRing(layout, pt, p.LinearRing(0).FlatCoords()) {
			continue
		}
		inHole := false
		for i := 1; i < p.NumLinearRings(); i++ {
			if xy.IsPointInRing(layout, pt, p.LinearRing(i).FlatCoords()) {
				inHole = true
				break
			}
		}
		if !inHole {
			return true
		}
	}
	return false
}

// LabelPoint is a synthetic label anchor for one named feature.
type LabelPoint struct {
	Key  string
	Name string
	Lng  float64
	Lat  float64
}

// LabelPoints returns one anchor per unique feature name, placed at the
// feature's center of mass, so multipolygon features get a single label.
func LabelPoints(set *FeatureSet) []LabelPoint {
	if set == nil {
		return nil
	}
	seen := make(map[string]bool, len(set.Features))
	out := make([]LabelPoint, 0, len(set.Features))
	for _, f := range set.Features {
		if f.Name == "" || seen[f.Name] {
			continue
		}
		lng, lat, ok := CenterOfMass(f.Geometry)
		if !ok {
			continue
		}
		seen[f.Name] = true
		out = append(out, LabelPoint{Key: f.Key, Name: f.Name, Lng: lng, Lat: lat})
	}
	return out
}
