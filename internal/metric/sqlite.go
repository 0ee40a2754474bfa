package metric

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteSource implements Source and RecordWriter on a local SQLite file.
// It mirrors the Postgres schema so the overlay can run without a server.
type SQLiteSource struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteSource, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteSource{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS variables (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	key         TEXT NOT NULL UNIQUE,
	label       TEXT NOT NULL,
	category    TEXT,
	value_type  TEXT,
	description TEXT
);

CREATE TABLE IF NOT EXISTS geo_entities (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	geo_level   TEXT NOT NULL,
	geoid       TEXT NOT NULL,
	geo_name    TEXT,
	state_abbr  TEXT,
	county_fips TEXT,
	cbsa_code   TEXT,
	zcta        TEXT,
	UNIQUE (geo_level, geoid)
);

CREATE TABLE IF NOT EXISTS metric_observations (
	variable_id     INTEGER NOT NULL REFERENCES variables(id),
	geo_entity_id   INTEGER NOT NULL REFERENCES geo_entities(id),
	date            TEXT NOT NULL,
	value           REAL,
	pct_change_prev REAL,
	PRIMARY KEY (variable_id, geo_entity_id, date)
);

CREATE INDEX IF NOT EXISTS idx_geo_entities_level_state ON geo_entities(geo_level, state_abbr);
CREATE INDEX IF NOT EXISTS idx_metric_observations_variable_date ON metric_observations(variable_id, date);

CREATE VIEW IF NOT EXISTS metric_observations_view AS
SELECT o.geo_entity_id, o.variable_id, o.value, o.date,
	e.geo_level, e.geoid, e.geo_name, e.state_abbr, e.county_fips, e.cbsa_code, e.zcta,
	o.pct_change_prev
FROM metric_observations o
JOIN geo_entities e ON e.id = o.geo_entity_id;
`

// Migrate creates the schema if needed.
func (s *SQLiteSource) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

// ListVariables implements Source.
func (s *SQLiteSource) ListVariables(ctx context.Context) ([]Variable, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, key, label, COALESCE(category, ''),
	COALESCE(value_type, ''), COALESCE(description, '')
FROM variables ORDER BY label`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query variables")
	}
	defer rows.Close() //nolint:errcheck

	var out []Variable
	for rows.Next() {
		var v Variable
		if err := rows.Scan(&v.ID, &v.Key, &v.Label, &v.Category, &v.ValueType, &v.Description); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan variable")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate variables")
}

// LatestDate implements Source.
func (s *SQLiteSource) LatestDate(ctx context.Context, variableID int64) (time.Time, bool, error) {
	var latest sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT max(date) FROM metric_observations WHERE variable_id = ?`, variableID,
	).Scan(&latest)
	if err != nil {
		return time.Time{}, false, eris.Wrapf(err, "sqlite: latest date for variable %d", variableID)
	}
	if !latest.Valid || latest.String == "" {
		return time.Time{}, false, nil
	}
	d, err := time.Parse(DateLayout, latest.String)
	if err != nil {
		return time.Time{}, false, eris.Wrapf(err, "sqlite: parse date %q", latest.String)
	}
	return d, true, nil
}

// ObservationPage implements Source.
func (s *SQLiteSource) ObservationPage(ctx context.Context, q PageQuery) ([]Row, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}

	var b strings.Builder
	b.WriteString(`SELECT geo_entity_id, variable_id, value, date,
	COALESCE(geo_level, ''), COALESCE(geoid, ''), COALESCE(geo_name, ''), COALESCE(state_abbr, ''),
	COALESCE(county_fips, ''), COALESCE(cbsa_code, ''), COALESCE(zcta, ''), pct_change_prev
FROM metric_observations_view
WHERE variable_id = ? AND date = ?`)
	args := []any{q.VariableID, q.Date.Format(DateLayout)}

	b.WriteString(" AND geo_level IN (" + placeholders(len(q.Levels)) + ")")
	for _, l := range q.Levels {
		args = append(args, l)
	}
	if len(q.States) > 0 {
		b.WriteString(" AND state_abbr IN (" + placeholders(len(q.States)) + ")")
		for _, st := range q.States {
			args = append(args, st)
		}
	}
	if q.RequireState {
		b.WriteString(" AND state_abbr IS NOT NULL AND state_abbr <> ''")
	}
	b.WriteString(" ORDER BY geo_entity_id LIMIT ? OFFSET ?")
	args = append(args, limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query observations (variable=%d levels=%v states=%v offset=%d)",
			q.VariableID, q.Levels, q.States, q.Offset)
	}
	defer rows.Close() //nolint:errcheck

	var out []Row
	for rows.Next() {
		var (
			r     Row
			date  string
			value sql.NullFloat64
			pct   sql.NullFloat64
		)
		if err := rows.Scan(&r.EntityID, &r.VariableID, &value, &date,
			&r.Level, &r.GeoID, &r.Name, &r.StateAbbr,
			&r.CountyFIPS, &r.CBSACode, &r.ZCTA, &pct); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan observation")
		}
		if r.Date, err = time.Parse(DateLayout, date); err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse observation date %q", date)
		}
		if value.Valid {
			r.Value = &value.Float64
		}
		if pct.Valid {
			r.PctChangePrev = &pct.Float64
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate observations")
}

// WriteRecords implements RecordWriter with batched inserts in one
// transaction.
func (s *SQLiteSource) WriteRecords(ctx context.Context, recs []Record) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	varIDs := make(map[string]int64)
	for _, v := range uniqueVariables(recs) {
		var id int64
		err := tx.QueryRowContext(ctx, `INSERT INTO variables (key, label, category, value_type, description)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (key) DO UPDATE SET label = excluded.label, category = excluded.category,
	value_type = excluded.value_type, description = excluded.description
RETURNING id`,
			v.Key, v.Label, nullable(v.Category), nullable(v.ValueType), nullable(v.Description),
		).Scan(&id)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert variable %s", v.Key)
		}
		varIDs[v.Key] = id
	}

	entIDs := make(map[entityKey]int64)
	for _, e := range uniqueEntities(recs) {
		var id int64
		err := tx.QueryRowContext(ctx, `INSERT INTO geo_entities (geo_level, geoid, geo_name, state_abbr, county_fips, cbsa_code, zcta)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (geo_level, geoid) DO UPDATE SET geo_name = excluded.geo_name, state_abbr = excluded.state_abbr,
	county_fips = excluded.county_fips, cbsa_code = excluded.cbsa_code, zcta = excluded.zcta
RETURNING id`,
			e.Level, e.GeoID, nullable(e.Name), nullable(e.StateAbbr),
			nullable(e.CountyFIPS), nullable(e.CBSACode), nullable(e.ZCTA),
		).Scan(&id)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert entity %s/%s", e.Level, e.GeoID)
		}
		entIDs[entityKey{e.Level, e.GeoID}] = id
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO metric_observations (variable_id, geo_entity_id, date, value, pct_change_prev)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (variable_id, geo_entity_id, date) DO UPDATE SET value = excluded.value, pct_change_prev = excluded.pct_change_prev`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare observation insert")
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for _, r := range recs {
		if _, err := stmt.ExecContext(ctx,
			varIDs[r.Variable.Key], entIDs[entityKey{r.Entity.Level, r.Entity.GeoID}],
			r.Date.Format(DateLayout), nullFloat(r.Value), nullFloat(r.PctChangePrev),
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert observation %s/%s", r.Variable.Key, r.Entity.GeoID)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit tx")
	}
	return n, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return "NULL"
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
