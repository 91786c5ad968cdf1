package app

import (
	"context"
	"errors"

	"elogbook-sso/internal/config"
	"elogbook-sso/internal/db"
	"elogbook-sso/internal/logger"
	"elogbook-sso/internal/redis"
)

type Infra struct {
	DB    *db.DB
	Redis *redis.Client
}

func setupInfra(ctx context.Context, cfg *config.Config) (*Infra, error) {
	database, err := db.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(cfg.DatabaseDSN); err != nil {
		_ = database.Close()
		return nil, err
	}

	logger.Info("database ready", map[string]any{"component": "infra"})

	redisClient, err := redis.New(ctx, redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	logger.Info("redis ready", map[string]any{"component": "infra"})

	return &Infra{
		DB:    database,
		Redis: redisClient,
	}, nil
}

func (i *Infra) Close() error {
	return errors.Join(i.Redis.Close(), i.DB.Close())
}
