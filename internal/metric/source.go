package metric

import (
	"context"
	"time"
)

// DefaultPageSize is the number of rows requested per observation page.
const DefaultPageSize = 1000

// PageQuery selects one page of observations for a variable on a date.
type PageQuery struct {
	VariableID int64
	Date       time.Time
	// Levels are the geo_level spellings to match (a resolution plus its aliases).
	Levels []string
	// States narrows the page to these state abbreviations when non-empty.
	States []string
	// RequireState excludes entities without a resolvable state.
	RequireState bool
	Offset       int
	Limit        int
}

// Source is the remote table/view the overlay reads metrics from.
type Source interface {
	// ListVariables returns every selectable variable.
	ListVariables(ctx context.Context) ([]Variable, error)

	// LatestDate returns the most recent observation date for a variable.
	// ok is false when the variable has no observations.
	LatestDate(ctx context.Context, variableID int64) (date time.Time, ok bool, err error)

	// ObservationPage returns one page of rows ordered by entity id.
	ObservationPage(ctx context.Context, q PageQuery) ([]Row, error)
}
