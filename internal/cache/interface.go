package cache

import (
	"context"
	"errors"
	"time"
)

// BlobCache хранилище двоичных значений по строковому ключу.
// RedisCache общий для всех экземпляров, MemoryCache для одного процесса и тестов.
type BlobCache interface {
	// Get возвращает ErrCacheMiss, если ключа нет или запись истекла
	Get(ctx context.Context, key string) ([]byte, error)

	// Set сохраняет значение; ttl = 0 - без истечения
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	// Stats счетчики обращений с момента создания
	Stats() BlobStats

	Close() error
}

// BlobStats счетчики BlobCache
type BlobStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Errors int64 `json:"errors"`
}

// HitRatio доля попаданий; 0 без обращений
func (s BlobStats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// CacheInvalidator рассылает и принимает ключи, сброшенные на других экземплярах
type CacheInvalidator interface {
	PublishInvalidation(ctx context.Context, key string) error

	// SubscribeInvalidations вызывает handler для чужих ключей до отмены ctx
	SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error

	Close() error
}

// InvalidationHandler обрабатывает ключ, пришедший от другого экземпляра
type InvalidationHandler func(key string) error

var (
	// ErrCacheMiss ключ не найден
	ErrCacheMiss = errors.New("cache: miss")
	// ErrInvalidKey пустой или неразбираемый ключ
	ErrInvalidKey = errors.New("cache: invalid key")
)
