package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/annel0/dust-map/internal/logging"
	"github.com/go-redis/redis/v8"
)

// RedisConfig параметры подключения к Redis
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int

	// MaxTTL верхняя граница срока жизни записи; 0 - без ограничения
	MaxTTL time.Duration
}

// RedisCache реализует BlobCache на Redis. Общий для всех экземпляров
// сервиса, поэтому блобы чанков скачиваются из сети один раз.
type RedisCache struct {
	client *redis.Client
	maxTTL time.Duration
	log    *logging.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// NewRedisCache подключается к Redis и проверяет соединение PING.
//
// Параметры:
//
//	cfg - адрес, пароль, номер базы и размер пула
//
// Возвращает:
//
//	*RedisCache - готовый к использованию кеш
//	error - ошибка подключения
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		PoolTimeout:  30 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.Addr, err)
	}

	log := logging.GetComponentLogger("cache")
	log.Info("Redis подключен: %s (db %d)", cfg.Addr, cfg.DB)
	return &RedisCache{client: rdb, maxTTL: cfg.MaxTTL, log: log}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	val, err := r.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		r.hits.Add(1)
		return val, nil
	case errors.Is(err, redis.Nil):
		r.misses.Add(1)
		return nil, ErrCacheMiss
	default:
		r.errors.Add(1)
		r.log.Warn("Redis GET %s: %v", key, err)
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	if r.maxTTL > 0 && (ttl == 0 || ttl > r.maxTTL) {
		ttl = r.maxTTL
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		r.errors.Add(1)
		r.log.Warn("Redis SET %s: %v", key, err)
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.errors.Add(1)
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (r *RedisCache) Stats() BlobStats {
	return BlobStats{Hits: r.hits.Load(), Misses: r.misses.Load(), Errors: r.errors.Load()}
}

// Close закрывает пул соединений
func (r *RedisCache) Close() error {
	s := r.Stats()
	r.log.Info("Redis закрыт: попаданий %d, промахов %d, ошибок %d", s.Hits, s.Misses, s.Errors)
	return r.client.Close()
}
