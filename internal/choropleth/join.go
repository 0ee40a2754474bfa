// Package choropleth joins metric observations onto boundary features,
// derives the color scale, and drives the per-resolution map layers.
package choropleth

import (
	"math"
	"strings"
	"time"

	"github.com/sells-group/market-atlas/internal/boundary"
	"github.com/sells-group/market-atlas/internal/geo"
	"github.com/sells-group/market-atlas/internal/metric"
)

// Value is one joined datum.
type Value struct {
	Value float64
	Date  time.Time
}

// Lookup maps a feature join key to its value.
type Lookup map[string]Value

// Values returns the looked-up numbers in no particular order.
func (l Lookup) Values() []float64 {
	out := make([]float64, 0, len(l))
	for _, v := range l {
		out = append(out, v.Value)
	}
	return out
}

// Latest returns the most recent observation date in the lookup.
func (l Lookup) Latest() (time.Time, bool) {
	var latest time.Time
	for _, v := range l {
		if v.Date.After(latest) {
			latest = v.Date
		}
	}
	return latest, !latest.IsZero()
}

// BuildLookup keys observations by the feature key used at res. Rows with no
// finite value or no entity, or whose level does not normalize to res, are skipped.
// For national, an explicit national observation wins; otherwise the value
// is the mean of the state observations dated at the latest state date.
func BuildLookup(obs []metric.Observation, res geo.Resolution) Lookup {
	if res == geo.National {
		return nationalLookup(obs)
	}

	out := make(Lookup)
	for _, o := range obs {
		if !usable(o) {
			continue
		}
		level, ok := o.Entity.Resolution()
		if !ok || level != res {
			continue
		}
		key := JoinKey(res, o.Entity)
		if key == "" {
			continue
		}
		out[key] = Value{Value: *o.Value, Date: o.Date}
	}
	return out
}

func usable(o metric.Observation) bool {
	if o.Value == nil || o.Entity == nil {
		return false
	}
	return !math.IsNaN(*o.Value) && !math.IsInf(*o.Value, 0)
}

func nationalLookup(obs []metric.Observation) Lookup {
	var (
		sum    float64
		n      int
		latest time.Time
	)
	for _, o := range obs {
		if !usable(o) {
			continue
		}
		level, ok := o.Entity.Resolution()
		if !ok {
			continue
		}
		switch level {
		case geo.National:
			return Lookup{boundary.NationalKey: {Value: *o.Value, Date: o.Date}}
		case geo.State:
			sum += *o.Value
			n++
			if o.Date.After(latest) {
				latest = o.Date
			}
		}
	}
	if n == 0 {
		return Lookup{}
	}
	return Lookup{boundary.NationalKey: {Value: sum / float64(n), Date: latest}}
}

// JoinKey returns the key an entity joins on at res: state name, CBSA code,
// 5-digit county FIPS, or ZCTA.
func JoinKey(res geo.Resolution, e *metric.Entity) string {
	if e == nil {
		return ""
	}
	switch res {
	case geo.National:
		return boundary.NationalKey
	case geo.State:
		return strings.TrimSpace(e.Name)
	case geo.Metro:
		return firstNonEmpty(e.CBSACode, e.GeoID)
	case geo.County:
		return boundary.PadDigits(firstNonEmpty(e.CountyFIPS, e.GeoID), 5)
	case geo.Zip:
		return boundary.PadDigits(firstNonEmpty(e.ZCTA, e.GeoID), 5)
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
