package main

import (
	"context"
	"fmt"
	"time"

	gcpfirestore "cloud.google.com/go/firestore"
	goredis "github.com/redis/go-redis/v9"

	"github.com/mihaimyh/goentitle/internal/config"
	"github.com/mihaimyh/goentitle/pkg/entitle"
	"github.com/mihaimyh/goentitle/storage/firestore"
	"github.com/mihaimyh/goentitle/storage/memory"
	"github.com/mihaimyh/goentitle/storage/postgres"
	"github.com/mihaimyh/goentitle/storage/redis"
)

// openedStore is a backend plus its lifecycle hooks.
type openedStore struct {
	entitle.Store
	ping  func(ctx context.Context) error
	close func()
}

// openStore connects the backend named in cfg.StorageBackend.
func openStore(ctx context.Context, cfg *config.Config, logger entitle.Logger) (*openedStore, error) {
	switch cfg.StorageBackend {
	case config.BackendPostgres:
		if cfg.AutoMigrate {
			if err := postgres.MigrateUp(cfg.DatabaseURL); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		pgCfg := postgres.DefaultConfig()
		pgCfg.ConnectionString = cfg.DatabaseURL
		pgCfg.Logger = logger
		s, err := postgres.New(ctx, pgCfg)
		if err != nil {
			return nil, err
		}
		return &openedStore{Store: s, ping: s.Ping, close: s.Close}, nil

	case config.BackendRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		s, err := redis.New(client, redis.DefaultConfig())
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &openedStore{Store: s, ping: s.Ping, close: func() { _ = s.Close() }}, nil

	case config.BackendFirestore:
		client, err := gcpfirestore.NewClient(ctx, cfg.FirestoreProject)
		if err != nil {
			return nil, fmt.Errorf("firestore client: %w", err)
		}
		s, err := firestore.New(client, firestore.Config{})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &openedStore{Store: s, close: func() { _ = s.Close() }}, nil

	default:
		logger.Warn("using in-memory storage; billing state is lost on restart")
		return &openedStore{Store: memory.New(), close: func() {}}, nil
	}
}
