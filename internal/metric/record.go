package metric

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/market-atlas/internal/geo"
)

// Record is one imported observation, keyed by variable key and entity
// identity rather than database ids.
type Record struct {
	Variable      Variable
	Entity        Entity
	Date          time.Time
	Value         *float64
	PctChangePrev *float64
}

// RecordWriter persists imported records. It returns the number of
// observation rows written.
type RecordWriter interface {
	WriteRecords(ctx context.Context, recs []Record) (int64, error)
}

// RecordColumns are the recognized import CSV headers. Only variable_key,
// geo_level, geoid, and date are required.
var RecordColumns = []string{
	"variable_key", "variable_label", "category", "value_type", "description",
	"geo_level", "geoid", "geo_name", "state_abbr", "county_fips", "cbsa_code", "zcta",
	"date", "value", "pct_change_prev",
}

var requiredColumns = []string{"variable_key", "geo_level", "geoid", "date"}

// RecordParser maps CSV rows to Records using a header row.
type RecordParser struct {
	index map[string]int
}

// NewRecordParser validates the header and builds a parser.
func NewRecordParser(header []string) (*RecordParser, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := index[c]; !ok {
			return nil, eris.Errorf("metric: import header missing column %q", c)
		}
	}
	return &RecordParser{index: index}, nil
}

func (p *RecordParser) field(row []string, name string) string {
	i, ok := p.index[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// Parse converts one row. Empty value cells become nil.
func (p *RecordParser) Parse(row []string) (Record, error) {
	key := p.field(row, "variable_key")
	if key == "" {
		return Record{}, eris.New("metric: import row without variable_key")
	}
	level := p.field(row, "geo_level")
	res, ok := geo.ParseResolution(level)
	if !ok {
		return Record{}, eris.Errorf("metric: import row has unknown geo_level %q", level)
	}
	geoid := p.field(row, "geoid")
	if geoid == "" {
		return Record{}, eris.New("metric: import row without geoid")
	}
	date, err := time.Parse(DateLayout, p.field(row, "date"))
	if err != nil {
		return Record{}, eris.Wrapf(err, "metric: import row date for %s/%s", key, geoid)
	}
	value, err := parseOptionalFloat(p.field(row, "value"))
	if err != nil {
		return Record{}, eris.Wrapf(err, "metric: import row value for %s/%s", key, geoid)
	}
	pct, err := parseOptionalFloat(p.field(row, "pct_change_prev"))
	if err != nil {
		return Record{}, eris.Wrapf(err, "metric: import row pct_change_prev for %s/%s", key, geoid)
	}

	label := p.field(row, "variable_label")
	if label == "" {
		label = key
	}
	return Record{
		Variable: Variable{
			Key:         key,
			Label:       label,
			Category:    p.field(row, "category"),
			ValueType:   p.field(row, "value_type"),
			Description: p.field(row, "description"),
		},
		Entity: Entity{
			Level:      res.String(),
			GeoID:      geoid,
			Name:       p.field(row, "geo_name"),
			StateAbbr:  strings.ToUpper(p.field(row, "state_abbr")),
			CountyFIPS: p.field(row, "county_fips"),
			CBSACode:   p.field(row, "cbsa_code"),
			ZCTA:       p.field(row, "zcta"),
		},
		Date:          date,
		Value:         value,
		PctChangePrev: pct,
	}, nil
}

func parseOptionalFloat(s string) (*float64, error) {
	if s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "na") {
		return nil, nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// uniqueVariables returns the distinct variables referenced by recs, first
// occurrence wins.
func uniqueVariables(recs []Record) []Variable {
	seen := make(map[string]bool)
	var out []Variable
	for _, r := range recs {
		if seen[r.Variable.Key] {
			continue
		}
		seen[r.Variable.Key] = true
		out = append(out, r.Variable)
	}
	return out
}

type entityKey struct{ level, geoid string }

func uniqueEntities(recs []Record) []Entity {
	seen := make(map[entityKey]bool)
	var out []Entity
	for _, r := range recs {
		k := entityKey{r.Entity.Level, r.Entity.GeoID}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r.Entity)
	}
	return out
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
