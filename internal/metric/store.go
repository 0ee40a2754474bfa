package metric

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/market-atlas/internal/geo"
)

var (
	// ErrFetchInFlight is returned when a fetch for the same key is already
	// running. The caller should wait for that fetch's result.
	ErrFetchInFlight = eris.New("metric: fetch already in flight")

	// ErrSuperseded is returned when the selected variable changed while a
	// fetch was running; its result was discarded.
	ErrSuperseded = eris.New("metric: fetch superseded by variable change")
)

// Store fetches observations for the selected variable through a Source and
// caches them per CacheKey. One Store serves one map session.
type Store struct {
	src      Source
	pageSize int
	cache    *Cache

	mu       sync.Mutex
	selected int64
	inflight map[CacheKey]uint64
}

// NewStore creates a store. A non-positive pageSize selects DefaultPageSize.
func NewStore(src Source, pageSize int) *Store {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Store{
		src:      src,
		pageSize: pageSize,
		cache:    NewCache(),
		inflight: make(map[CacheKey]uint64),
	}
}

// SelectVariable makes v the selected variable. When the id changes the
// cache and in-flight markers are cleared. It reports whether it changed.
func (s *Store) SelectVariable(v Variable) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == v.ID {
		return false
	}
	s.selected = v.ID
	s.cache.Clear()
	s.inflight = make(map[CacheKey]uint64)
	return true
}

// Selected returns the selected variable id, or 0.
func (s *Store) Selected() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Cached returns the cached entry for key.
func (s *Store) Cached(key CacheKey) ([]Observation, bool) {
	return s.cache.Get(key)
}

// InFlight reports whether a fetch for key is running.
func (s *Store) InFlight(key CacheKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[key]
	return ok
}

// Fetch returns the observations for v at key, reading through the cache.
// Only one fetch per key runs at a time; a concurrent caller gets
// ErrFetchInFlight. Fetch errors leave the key absent so a later call
// retries.
func (s *Store) Fetch(ctx context.Context, v Variable, key CacheKey) ([]Observation, error) {
	s.SelectVariable(v)

	if obs, ok := s.cache.Get(key); ok {
		return obs, nil
	}

	s.mu.Lock()
	if _, busy := s.inflight[key]; busy {
		s.mu.Unlock()
		return nil, ErrFetchInFlight
	}
	gen := s.cache.Generation()
	s.inflight[key] = gen
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if g, ok := s.inflight[key]; ok && g == gen {
			delete(s.inflight, key)
		}
		s.mu.Unlock()
	}()

	log := zap.L().With(
		zap.Int64("variable_id", v.ID),
		zap.String("variable", v.Key),
		zap.String("cache_key", key.String()),
	)

	obs, err := s.load(ctx, v, key)
	if err != nil {
		log.Error("metric: fetch observations failed", zap.Error(err))
		return nil, err
	}

	if !s.cache.Put(gen, key, obs) {
		log.Debug("metric: discarded superseded fetch", zap.Int("rows", len(obs)))
		return nil, ErrSuperseded
	}
	log.Debug("metric: fetched observations", zap.Int("rows", len(obs)))
	return obs, nil
}

func (s *Store) load(ctx context.Context, v Variable, key CacheKey) ([]Observation, error) {
	date, ok, err := s.src.LatestDate(ctx, v.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "metric: latest date for %s", v.Key)
	}
	if !ok {
		return []Observation{}, nil
	}

	q := PageQuery{
		VariableID:   v.ID,
		Date:         date,
		Levels:       geo.Aliases(key.Resolution),
		States:       key.StateList(),
		RequireState: key.Resolution == geo.Zip,
		Limit:        s.pageSize,
	}

	out := make([]Observation, 0, s.pageSize)
	for {
		page, err := s.src.ObservationPage(ctx, q)
		if err != nil {
			return nil, eris.Wrapf(err, "metric: page at offset %d for %s date=%s",
				q.Offset, key.String(), date.Format(DateLayout))
		}
		for _, r := range page {
			out = append(out, Normalize(v, r))
		}
		if len(page) < s.pageSize {
			break
		}
		q.Offset += s.pageSize
	}
	return out, nil
}
