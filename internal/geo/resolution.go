// Package geo maps map zoom and viewport state onto geographic resolutions
// and the U.S. states visible in a viewport.
package geo

import (
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
)

// Resolution is one of the five geographic granularities shown on the map,
// ordered from least to most specific.
type Resolution int

// Resolutions in order of specificity.
const (
	National Resolution = iota
	State
	Metro
	County
	Zip
)

// Zoom thresholds. A zoom exactly on a threshold selects the finer level.
const (
	stateZoom  = 3.5
	metroZoom  = 5.5
	countyZoom = 7.5
	zipZoom    = 10
)

// All lists every resolution from coarsest to finest.
var All = []Resolution{National, State, Metro, County, Zip}

var resolutionNames = [...]string{"national", "state", "metro", "county", "zip"}

var resolutionLabels = [...]string{"National", "State", "Metro", "County", "ZIP Code"}

// aliases maps upstream geo_level spellings onto resolutions.
var aliases = map[string]Resolution{
	"national": National,
	"nation":   National,
	"country":  National,
	"us":       National,
	"state":    State,
	"metro":    Metro,
	"msa":      Metro,
	"cbsa":     Metro,
	"county":   County,
	"zip":      Zip,
	"zcta":     Zip,
}

// ForZoom returns the resolution displayed at the given zoom.
func ForZoom(zoom float64) Resolution {
	switch {
	case zoom < stateZoom:
		return National
	case zoom < metroZoom:
		return State
	case zoom < countyZoom:
		return Metro
	case zoom < zipZoom:
		return County
	default:
		return Zip
	}
}

// String returns the canonical lowercase name used in cache keys and layer ids.
func (r Resolution) String() string {
	if !r.Valid() {
		return "unknown"
	}
	return resolutionNames[r]
}

// Label returns the display name for the level indicator.
func (r Resolution) Label() string {
	if !r.Valid() {
		return "Unknown"
	}
	return resolutionLabels[r]
}

// Valid reports whether r is one of the five known resolutions.
func (r Resolution) Valid() bool {
	return r >= National && r <= Zip
}

// RegionScoped reports whether metric fetches at this resolution are
// narrowed to the states in the viewport.
func (r Resolution) RegionScoped() bool {
	return r == County || r == Zip
}

// MarshalText implements encoding.TextMarshaler.
func (r Resolution) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, eris.Errorf("geo: invalid resolution %d", int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Resolution) UnmarshalText(b []byte) error {
	parsed, ok := ParseResolution(string(b))
	if !ok {
		return eris.Errorf("geo: unknown resolution %q", string(b))
	}
	*r = parsed
	return nil
}

// ParseResolution resolves a resolution name or upstream alias such as
// "msa" or "country". Matching is case-insensitive.
func ParseResolution(s string) (Resolution, bool) {
	r, ok := aliases[strings.ToLower(strings.TrimSpace(s))]
	return r, ok
}

// Aliases returns every geo_level spelling that maps onto r, sorted.
func Aliases(r Resolution) []string {
	var out []string
	for name, res := range aliases {
		if res == r {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ZoomHint returns the contextual hint shown next to the level indicator.
func ZoomHint(r Resolution) string {
	switch r {
	case National:
		return "Zoom in to see state-level data"
	case State:
		return "Zoom in to see metro areas"
	case Metro:
		return "Zoom in to see counties"
	case County:
		return "Zoom in to see ZIP codes"
	case Zip:
		return "Showing ZIP code level data"
	default:
		return ""
	}
}

// Resolver memoizes the resolution for the last observed zoom so callers
// only react when the resolution itself changes.
type Resolver struct {
	mu      sync.Mutex
	current Resolution
	seen    bool
}

// Resolve returns the resolution for zoom and whether it differs from the
// previous call. The first call always reports a change.
func (r *Resolver) Resolve(zoom float64) (Resolution, bool) {
	next := ForZoom(zoom)

	r.mu.Lock()
	defer r.mu.Unlock()

	changed := !r.seen || next != r.current
	r.current = next
	r.seen = true
	return next, changed
}

// Current returns the last resolved resolution and whether any zoom has
// been observed yet.
func (r *Resolver) Current() (Resolution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.seen
}
