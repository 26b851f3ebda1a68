// Package database opens the connections the process depends on. Startup
// connects retry with backoff so the api can come up before its backing
// services are ready.
package database

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/zizouhuweidi/ilm/internal/config"
)

const (
	connectTimeout = 10 * time.Second
	connectTries   = 5
)

// ConnectPostgres opens a pool and checks it with a ping
func ConnectPostgres(ctx context.Context, url string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, errors.Wrap(err, "parsing database url")
	}
	return connect(ctx, func(ctx context.Context) (*pgxpool.Pool, error) {
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg.Copy())
		if err != nil {
			return nil, errors.Wrap(err, "unable to connect to database")
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "unable to ping database")
		}
		return pool, nil
	})
}

// ConnectRedis establishes a connection to Redis
func ConnectRedis(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is not configured")
	}
	return connect(ctx, func(ctx context.Context) (*redis.Client, error) {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, errors.Wrap(err, "failed to connect to Redis")
		}
		return client, nil
	})
}

func connect[T any](ctx context.Context, dial func(context.Context) (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		return dial(attemptCtx)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(connectTries))
}
