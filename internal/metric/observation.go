package metric

import (
	"strings"
	"time"

	"github.com/sells-group/market-atlas/internal/geo"
)

// DateLayout is the wire format of observation dates.
const DateLayout = "2006-01-02"

// Entity describes the geography an observation belongs to.
type Entity struct {
	Level      string `json:"geo_level"`
	GeoID      string `json:"geoid,omitempty"`
	Name       string `json:"geo_name,omitempty"`
	StateAbbr  string `json:"state_abbr,omitempty"`
	CountyFIPS string `json:"county_fips,omitempty"`
	CBSACode   string `json:"cbsa_code,omitempty"`
	ZCTA       string `json:"zcta,omitempty"`
}

// Resolution normalizes the entity's level, accepting upstream aliases.
func (e *Entity) Resolution() (geo.Resolution, bool) {
	if e == nil {
		return 0, false
	}
	return geo.ParseResolution(e.Level)
}

// Observation is one (entity, variable, date) value ready for joining.
type Observation struct {
	EntityID   int64     `json:"geo_entity_id"`
	VariableID int64     `json:"variable_id"`
	Value      *float64  `json:"value"`
	Date       time.Time `json:"date"`
	Entity     *Entity   `json:"entity,omitempty"`
}

// Row is one record of the observation view as returned by a Source.
type Row struct {
	EntityID      int64     `json:"geo_entity_id"`
	VariableID    int64     `json:"variable_id"`
	Value         *float64  `json:"value"`
	Date          time.Time `json:"date"`
	Level         string    `json:"geo_level"`
	GeoID         string    `json:"geoid"`
	Name          string    `json:"geo_name"`
	StateAbbr     string    `json:"state_abbr"`
	CountyFIPS    string    `json:"county_fips"`
	CBSACode      string    `json:"cbsa_code"`
	ZCTA          string    `json:"zcta"`
	PctChangePrev *float64  `json:"pct_change_prev"`
}

// Normalize flattens a row into an Observation. For the renter-demand family
// the rendered value is pct_change_prev scaled by 100.
func Normalize(v Variable, r Row) Observation {
	obs := Observation{
		EntityID:   r.EntityID,
		VariableID: r.VariableID,
		Value:      r.Value,
		Date:       r.Date,
	}
	if v.PreScaledPercent() {
		obs.Value = nil
		if r.PctChangePrev != nil {
			scaled := *r.PctChangePrev * 100
			obs.Value = &scaled
		}
	}
	if r.Level != "" || r.GeoID != "" {
		obs.Entity = &Entity{
			Level:      r.Level,
			GeoID:      strings.TrimSpace(r.GeoID),
			Name:       r.Name,
			StateAbbr:  strings.ToUpper(strings.TrimSpace(r.StateAbbr)),
			CountyFIPS: strings.TrimSpace(r.CountyFIPS),
			CBSACode:   strings.TrimSpace(r.CBSACode),
			ZCTA:       strings.TrimSpace(r.ZCTA),
		}
	}
	return obs
}
