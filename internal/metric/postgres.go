package metric

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/market-atlas/internal/db"
)

const (
	pgListVariables = `SELECT id, key, COALESCE(label, key), COALESCE(category, ''),
	COALESCE(value_type, ''), COALESCE(description, '')
FROM variables
ORDER BY label`

	pgLatestDate = `SELECT max(date) FROM metric_observations WHERE variable_id = $1`
)

// PostgresSource reads variables and observations from Postgres.
type PostgresSource struct {
	pool db.Pool
}

// NewPostgresSource wraps a pool.
func NewPostgresSource(pool db.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

// ListVariables implements Source.
func (s *PostgresSource) ListVariables(ctx context.Context) ([]Variable, error) {
	rows, err := s.pool.Query(ctx, pgListVariables)
	if err != nil {
		return nil, eris.Wrap(err, "metric: query variables")
	}
	defer rows.Close()

	var out []Variable
	for rows.Next() {
		var v Variable
		if err := rows.Scan(&v.ID, &v.Key, &v.Label, &v.Category, &v.ValueType, &v.Description); err != nil {
			return nil, eris.Wrap(err, "metric: scan variable")
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "metric: iterate variables")
	}
	return out, nil
}

// LatestDate implements Source.
func (s *PostgresSource) LatestDate(ctx context.Context, variableID int64) (time.Time, bool, error) {
	var latest *time.Time
	if err := s.pool.QueryRow(ctx, pgLatestDate, variableID).Scan(&latest); err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, eris.Wrapf(err, "metric: latest date for variable %d", variableID)
	}
	if latest == nil {
		return time.Time{}, false, nil
	}
	return latest.UTC(), true, nil
}

// ObservationPage implements Source.
func (s *PostgresSource) ObservationPage(ctx context.Context, q PageQuery) ([]Row, error) {
	sql, args := observationPageSQL(q)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "metric: query observations (variable=%d levels=%v states=%v offset=%d)",
			q.VariableID, q.Levels, q.States, q.Offset)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(
			&r.EntityID, &r.VariableID, &r.Value, &r.Date,
			&r.Level, &r.GeoID, &r.Name, &r.StateAbbr,
			&r.CountyFIPS, &r.CBSACode, &r.ZCTA, &r.PctChangePrev,
		); err != nil {
			return nil, eris.Wrap(err, "metric: scan observation")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "metric: iterate observations")
	}
	return out, nil
}

// observationPageSQL builds the page query against metric_observations_view.
func observationPageSQL(q PageQuery) (string, []any) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}

	var b strings.Builder
	b.WriteString(`SELECT geo_entity_id, variable_id, value, date,
	COALESCE(geo_level, ''), COALESCE(geoid, ''), COALESCE(geo_name, ''), COALESCE(state_abbr, ''),
	COALESCE(county_fips, ''), COALESCE(cbsa_code, ''), COALESCE(zcta, ''), pct_change_prev
FROM metric_observations_view
WHERE variable_id = $1 AND date = $2 AND geo_level = ANY($3)`)
	args := []any{q.VariableID, q.Date.Format(DateLayout), q.Levels}

	if len(q.States) > 0 {
		args = append(args, q.States)
		fmt.Fprintf(&b, " AND state_abbr = ANY($%d)", len(args))
	}
	if q.RequireState {
		b.WriteString(" AND state_abbr IS NOT NULL AND state_abbr <> ''")
	}

	args = append(args, limit, q.Offset)
	fmt.Fprintf(&b, "\nORDER BY geo_entity_id\nLIMIT $%d OFFSET $%d", len(args)-1, len(args))
	return b.String(), args
}

var (
	variableUpsert = db.UpsertConfig{
		Table:        "variables",
		Columns:      []string{"key", "label", "category", "value_type", "description"},
		ConflictKeys: []string{"key"},
	}
	entityUpsert = db.UpsertConfig{
		Table:        "geo_entities",
		Columns:      []string{"geo_level", "geoid", "geo_name", "state_abbr", "county_fips", "cbsa_code", "zcta"},
		ConflictKeys: []string{"geo_level", "geoid"},
	}
	observationUpsert = db.UpsertConfig{
		Table:        "metric_observations",
		Columns:      []string{"variable_id", "geo_entity_id", "date", "value", "pct_change_prev"},
		ConflictKeys: []string{"variable_id", "geo_entity_id", "date"},
	}
)

// WriteRecords implements RecordWriter. Variables and entities are upserted
// first, their ids resolved, and then observations are merged.
func (s *PostgresSource) WriteRecords(ctx context.Context, recs []Record) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	vars := uniqueVariables(recs)
	varRows := make([][]any, len(vars))
	varKeys := make([]string, len(vars))
	for i, v := range vars {
		varRows[i] = []any{v.Key, v.Label, nullable(v.Category), nullable(v.ValueType), nullable(v.Description)}
		varKeys[i] = v.Key
	}
	if _, err := db.BulkUpsert(ctx, s.pool, variableUpsert, varRows); err != nil {
		return 0, eris.Wrap(err, "metric: upsert variables")
	}

	ents := uniqueEntities(recs)
	entRows := make([][]any, len(ents))
	geoids := make([]string, len(ents))
	for i, e := range ents {
		entRows[i] = []any{e.Level, e.GeoID, nullable(e.Name), nullable(e.StateAbbr),
			nullable(e.CountyFIPS), nullable(e.CBSACode), nullable(e.ZCTA)}
		geoids[i] = e.GeoID
	}
	if _, err := db.BulkUpsert(ctx, s.pool, entityUpsert, entRows); err != nil {
		return 0, eris.Wrap(err, "metric: upsert geo entities")
	}

	varIDs, err := s.variableIDs(ctx, varKeys)
	if err != nil {
		return 0, err
	}
	entIDs, err := s.entityIDs(ctx, geoids)
	if err != nil {
		return 0, err
	}

	obsRows := make([][]any, 0, len(recs))
	for _, r := range recs {
		vid, ok := varIDs[r.Variable.Key]
		if !ok {
			return 0, eris.Errorf("metric: variable %q missing after upsert", r.Variable.Key)
		}
		eid, ok := entIDs[entityKey{r.Entity.Level, r.Entity.GeoID}]
		if !ok {
			return 0, eris.Errorf("metric: entity %s/%s missing after upsert", r.Entity.Level, r.Entity.GeoID)
		}
		obsRows = append(obsRows, []any{vid, eid, r.Date, r.Value, r.PctChangePrev})
	}

	n, err := db.BulkUpsert(ctx, s.pool, observationUpsert, obsRows)
	if err != nil {
		return 0, eris.Wrap(err, "metric: upsert observations")
	}
	return n, nil
}

func (s *PostgresSource) variableIDs(ctx context.Context, keys []string) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, key FROM variables WHERE key = ANY($1)`, keys)
	if err != nil {
		return nil, eris.Wrap(err, "metric: resolve variable ids")
	}
	defer rows.Close()

	out := make(map[string]int64, len(keys))
	for rows.Next() {
		var id int64
		var key string
		if err := rows.Scan(&id, &key); err != nil {
			return nil, eris.Wrap(err, "metric: scan variable id")
		}
		out[key] = id
	}
	return out, eris.Wrap(rows.Err(), "metric: iterate variable ids")
}

func (s *PostgresSource) entityIDs(ctx context.Context, geoids []string) (map[entityKey]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, geo_level, geoid FROM geo_entities WHERE geoid = ANY($1)`, geoids)
	if err != nil {
		return nil, eris.Wrap(err, "metric: resolve entity ids")
	}
	defer rows.Close()

	out := make(map[entityKey]int64, len(geoids))
	for rows.Next() {
		var id int64
		var k entityKey
		if err := rows.Scan(&id, &k.level, &k.geoid); err != nil {
			return nil, eris.Wrap(err, "metric: scan entity id")
		}
		out[k] = id
	}
	return out, eris.Wrap(rows.Err(), "metric: iterate entity ids")
}
