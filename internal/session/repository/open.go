package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Session store backends.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// StoreConfig selects and configures a Store backend.
type StoreConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
	Timeout       time.Duration
}

// OpenStore returns the configured Store. For the redis backend it also returns the client,
// which the caller closes; for postgres the client is nil and sqlDB must be non-nil.
func OpenStore(cfg StoreConfig, sqlDB *sql.DB) (Store, *redis.Client, error) {
	switch cfg.Backend {
	case BackendRedis:
		if cfg.RedisAddr == "" {
			return nil, nil, errors.New("session store: redis address is required")
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedisRepository(rdb, cfg.KeyPrefix, cfg.Timeout), rdb, nil
	case BackendPostgres, "":
		if sqlDB == nil {
			return nil, nil, errors.New("session store: postgres backend needs a database")
		}
		return NewPostgresRepository(sqlDB, cfg.Timeout), nil, nil
	default:
		return nil, nil, fmt.Errorf("session store: unknown backend %q", cfg.Backend)
	}
}
