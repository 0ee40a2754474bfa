package main

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/market-atlas/internal/config"
	"github.com/sells-group/market-atlas/internal/db"
	"github.com/sells-group/market-atlas/internal/metric"
)

// storeEnv is the metric backend selected by store.driver.
type storeEnv struct {
	Source  metric.Source
	Writer  metric.RecordWriter
	Migrate func(ctx context.Context) error
	close   []func()
}

// Close releases the backend and any cache client.
func (e *storeEnv) Close() {
	for i := len(e.close) - 1; i >= 0; i-- {
		e.close[i]()
	}
}

func initStore(ctx context.Context, c *config.Config) (*storeEnv, error) {
	switch c.Store.Driver {
	case "sqlite":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "atlas.db"
		}
		s, err := metric.NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return &storeEnv{
			Source:  s,
			Writer:  s,
			Migrate: s.Migrate,
			close:   []func(){func() { _ = s.Close() }},
		}, nil
	case "postgres":
		pool, err := db.Connect(ctx, c.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		src := metric.NewPostgresSource(pool)
		return &storeEnv{
			Source:  src,
			Writer:  src,
			Migrate: func(ctx context.Context) error { return db.Migrate(ctx, pool) },
			close:   []func(){pool.Close},
		}, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// withRedis wraps the source in the shared Redis cache when redis.addr is
// set.
func (e *storeEnv) withRedis(ctx context.Context, rc config.RedisConfig) {
	if rc.Addr == "" {
		return
	}
	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		zap.L().Warn("redis unreachable, serving without shared cache",
			zap.String("addr", rc.Addr),
			zap.Error(err),
		)
		_ = client.Close()
		return
	}
	e.Source = metric.NewRedisSource(e.Source, client, rc.TTL())
	e.close = append(e.close, func() { _ = client.Close() })
	zap.L().Info("redis metric cache enabled", zap.String("addr", rc.Addr), zap.Duration("ttl", rc.TTL()))
}
