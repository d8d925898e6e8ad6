package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/sessionstate/pkg/config"
	"github.com/dmitrymomot/sessionstate/pkg/kv"
	"github.com/dmitrymomot/sessionstate/pkg/mongo"
	"github.com/dmitrymomot/sessionstate/pkg/pg"
	"github.com/dmitrymomot/sessionstate/pkg/redis"
)

const (
	backendMemory   = "memory"
	backendRedis    = "redis"
	backendPostgres = "postgres"
	backendMongo    = "mongo"
)

var errUnknownBackend = errors.New("unknown backend")

// backend is an opened store plus its maintenance hooks.
type backend struct {
	name  string
	store kv.Store
	ping  func(context.Context) error
	// migrate is nil for backends without a schema.
	migrate func(context.Context) error
	close   func()
}

type openFunc func(ctx context.Context, name string, log *slog.Logger) (*backend, error)

func openBackend(ctx context.Context, name string, log *slog.Logger) (*backend, error) {
	switch name {
	case backendMemory:
		return memoryBackend(kv.NewMemoryStore()), nil

	case backendRedis:
		var cfg redis.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		client, err := redis.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &backend{
			name:  name,
			store: redis.NewStore(client),
			ping:  redis.Healthcheck(client),
			close: func() { _ = client.Close() },
		}, nil

	case backendPostgres:
		var cfg pg.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		pool, err := pg.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &backend{
			name:  name,
			store: pg.NewStore(pool),
			ping:  pg.Healthcheck(pool),
			migrate: func(ctx context.Context) error {
				return pg.Migrate(ctx, pool, cfg, log)
			},
			close: pool.Close,
		}, nil

	case backendMongo:
		var cfg mongo.Config
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		client, err := mongo.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store := mongo.NewStore(client.Database(cfg.Database), cfg.Collection)
		return &backend{
			name:    name,
			store:   store,
			ping:    mongo.Healthcheck(client),
			migrate: store.EnsureIndexes,
			close:   func() { _ = client.Disconnect(context.Background()) },
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", errUnknownBackend, name)
}

func memoryBackend(store *kv.MemoryStore) *backend {
	return &backend{
		name:  backendMemory,
		store: store,
		ping:  func(context.Context) error { return nil },
		close: func() { _ = store.Close() },
	}
}
