package main

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dshills/stategraph/graph/store"
)

// openStore connects the configured checkpointer. The returned close
// function releases its connections.
func openStore(ctx context.Context, cfg StoreConfig) (store.Checkpointer, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case "", "memory":
		return store.NewMemStore(), noop, nil

	case "sqlite":
		path := cfg.DSN
		if path == "" {
			path = "stategraph.db"
		}
		s, err := store.NewSQLiteStore(path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case "mysql":
		s, err := store.NewMySQLStore(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case "postgres":
		s, err := store.NewPostgresStore(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case "redis":
		addr := cfg.DSN
		if addr == "" {
			addr = "localhost:6379"
		}
		var opts []store.RedisOption
		if cfg.Prefix != "" {
			opts = append(opts, store.WithRedisPrefix(cfg.Prefix))
		}
		if cfg.TTL > 0 {
			opts = append(opts, store.WithRedisTTL(cfg.TTL))
		}
		s := store.NewRedisStore(addr, cfg.Password, cfg.DB, opts...)
		return s, s.Close, nil

	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.DSN))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		s, err := store.NewMongoStore(ctx, client, cfg.Database, cfg.Collection)
		if err != nil {
			_ = client.Disconnect(ctx)
			return nil, nil, err
		}
		return s, func() error { return client.Disconnect(context.Background()) }, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q (want memory, sqlite, mysql, postgres, redis or mongo)", cfg.Backend)
}
