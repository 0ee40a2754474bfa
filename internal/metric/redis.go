package metric

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultRedisTTL bounds how long shared pages and dates are reused.
const DefaultRedisTTL = 15 * time.Minute

// KV is the subset of *redis.Client used by RedisSource.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisSource decorates a Source with a Redis cache shared by every session
// and server instance. Cache errors never fail a request; they fall through
// to the wrapped source.
type RedisSource struct {
	next   Source
	kv     KV
	ttl    time.Duration
	prefix string
}

// NewRedisSource wraps next. A non-positive ttl selects DefaultRedisTTL.
func NewRedisSource(next Source, kv KV, ttl time.Duration) *RedisSource {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisSource{next: next, kv: kv, ttl: ttl, prefix: "atlas:"}
}

// ListVariables implements Source. The catalog is read once at startup so
// it is not cached here.
func (s *RedisSource) ListVariables(ctx context.Context) ([]Variable, error) {
	return s.next.ListVariables(ctx)
}

type cachedDate struct {
	Date string `json:"date"`
	OK   bool   `json:"ok"`
}

// LatestDate implements Source.
func (s *RedisSource) LatestDate(ctx context.Context, variableID int64) (time.Time, bool, error) {
	key := fmt.Sprintf("%slatest:%d", s.prefix, variableID)

	var hit cachedDate
	if s.load(ctx, key, &hit) {
		if !hit.OK {
			return time.Time{}, false, nil
		}
		if d, err := time.Parse(DateLayout, hit.Date); err == nil {
			return d, true, nil
		}
	}

	date, ok, err := s.next.LatestDate(ctx, variableID)
	if err != nil {
		return time.Time{}, false, err
	}
	entry := cachedDate{OK: ok}
	if ok {
		entry.Date = date.Format(DateLayout)
	}
	s.store(ctx, key, entry)
	return date, ok, nil
}

// ObservationPage implements Source.
func (s *RedisSource) ObservationPage(ctx context.Context, q PageQuery) ([]Row, error) {
	key := s.pageKey(q)

	var rows []Row
	if s.load(ctx, key, &rows) {
		return rows, nil
	}

	rows, err := s.next.ObservationPage(ctx, q)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, rows)
	return rows, nil
}

// WriteRecords forwards to the wrapped source when it supports writes.
func (s *RedisSource) WriteRecords(ctx context.Context, recs []Record) (int64, error) {
	w, ok := s.next.(RecordWriter)
	if !ok {
		return 0, eris.New("metric: wrapped source does not accept writes")
	}
	return w.WriteRecords(ctx, recs)
}

func (s *RedisSource) pageKey(q PageQuery) string {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	return fmt.Sprintf("%spage:%d:%s:%s:%s:%t:%d:%d",
		s.prefix, q.VariableID, q.Date.Format(DateLayout),
		strings.Join(q.Levels, ","), strings.Join(q.States, ","),
		q.RequireState, q.Offset, limit)
}

func (s *RedisSource) load(ctx context.Context, key string, dst any) bool {
	raw, err := s.kv.Get(ctx, key).Result()
	if err != nil {
		if !eris.Is(err, redis.Nil) {
			zap.L().Warn("metric: redis get failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		zap.L().Warn("metric: redis entry undecodable", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (s *RedisSource) store(ctx context.Context, key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.kv.Set(ctx, key, string(b), s.ttl).Err(); err != nil {
		zap.L().Warn("metric: redis set failed", zap.String("key", key), zap.Error(err))
	}
}
