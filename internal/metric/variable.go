// Package metric loads the variable catalog and fetches, normalizes, and
// caches metric observations per resolution and visible region.
package metric

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Unit is the formatting category of a variable's values.
type Unit string

// Units.
const (
	UnitCurrency Unit = "currency"
	UnitPercent  Unit = "percent"
	UnitPlain    Unit = "plain"
)

// Variable is one selectable metric.
type Variable struct {
	ID          int64  `json:"id"`
	Key         string `json:"key"`
	Label       string `json:"label"`
	Category    string `json:"category,omitempty"`
	ValueType   string `json:"value_type,omitempty"`
	Description string `json:"description,omitempty"`
}

// PreScaledPercent reports whether the variable belongs to the renter-demand
// family, whose rendered value is the precomputed percent change already
// multiplied by 100.
func (v Variable) PreScaledPercent() bool {
	k := strings.ToLower(v.Key)
	return strings.Contains(k, "renter_demand") || strings.Contains(k, "renter-demand")
}

var (
	percentHints  = []string{"pct", "percent", "yoy", "mom", "rate", "share", "change", "ratio"}
	currencyHints = []string{"price", "rent", "value", "income", "cost", "sale", "usd", "dollar"}
)

// Unit returns the formatting category. An explicit value type wins; the key
// and category are consulted only when the value type is absent or unknown.
func (v Variable) Unit() Unit {
	if v.PreScaledPercent() {
		return UnitPercent
	}
	switch strings.ToLower(strings.TrimSpace(v.ValueType)) {
	case "currency", "usd", "dollars", "money":
		return UnitCurrency
	case "percent", "percentage", "pct":
		return UnitPercent
	case "number", "count", "index", "plain", "integer", "float":
		return UnitPlain
	}

	hay := strings.ToLower(v.Key + " " + v.Category)
	for _, h := range percentHints {
		if strings.Contains(hay, h) {
			return UnitPercent
		}
	}
	for _, h := range currencyHints {
		if strings.Contains(hay, h) {
			return UnitCurrency
		}
	}
	return UnitPlain
}

var vendors = []struct {
	prefix string
	name   string
}{
	{"zillow", "Zillow"},
	{"zhvi", "Zillow"},
	{"zori", "Zillow"},
	{"redfin", "Redfin"},
	{"realtor", "Realtor.com"},
	{"apartment_list", "Apartment List"},
	{"census", "U.S. Census Bureau"},
	{"acs", "U.S. Census Bureau"},
	{"hud", "HUD"},
	{"fhfa", "FHFA"},
	{"bls", "Bureau of Labor Statistics"},
	{"fred", "FRED"},
}

// Vendor returns the data vendor credited for the variable, if recognizable
// from its key.
func (v Variable) Vendor() string {
	k := strings.ToLower(v.Key)
	for _, vd := range vendors {
		if strings.HasPrefix(k, vd.prefix) {
			return vd.name
		}
	}
	return ""
}

// Catalog is the immutable set of variables loaded at startup.
type Catalog struct {
	vars []Variable
	byID map[int64]Variable
}

// NewCatalog builds a catalog sorted by label.
func NewCatalog(vars []Variable) *Catalog {
	sorted := make([]Variable, len(vars))
	copy(sorted, vars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return strings.ToLower(sorted[i].Label) < strings.ToLower(sorted[j].Label)
	})
	byID := make(map[int64]Variable, len(sorted))
	for _, v := range sorted {
		byID[v.ID] = v
	}
	return &Catalog{vars: sorted, byID: byID}
}

// LoadCatalog reads the variable list from the source.
func LoadCatalog(ctx context.Context, src Source) (*Catalog, error) {
	vars, err := src.ListVariables(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "metric: load catalog")
	}
	return NewCatalog(vars), nil
}

// All returns the variables in display order.
func (c *Catalog) All() []Variable {
	out := make([]Variable, len(c.vars))
	copy(out, c.vars)
	return out
}

// Get looks up a variable by id.
func (c *Catalog) Get(id int64) (Variable, bool) {
	v, ok := c.byID[id]
	return v, ok
}

// Len returns the number of variables.
func (c *Catalog) Len() int { return len(c.vars) }
