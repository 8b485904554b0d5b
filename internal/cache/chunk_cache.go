package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/annel0/dust-map/internal/chain"
)

// chunkKeyPrefix пространство ключей блобов чанков
const chunkKeyPrefix = "dust:chunk:"

// ChunkCache хранит блобы чанков в BlobCache в сжатом zstd виде.
// Ключ - адрес SSTORE2 контракта чанка. Блоб неизменен, поэтому
// инвалидация не нужна, TTL только ограничивает объем.
type ChunkCache struct {
	repo BlobCache
	ttl  time.Duration
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

// NewChunkCache оборачивает repo; ttl = 0 - без истечения
func NewChunkCache(repo BlobCache, ttl time.Duration) (*ChunkCache, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &ChunkCache{repo: repo, ttl: ttl, enc: enc, dec: dec}, nil
}

func chunkKey(pointer chain.Address) string {
	return chunkKeyPrefix + pointer.Hex()
}

// GetChunk возвращает блоб; промах - (nil, false, nil)
func (c *ChunkCache) GetChunk(ctx context.Context, pointer chain.Address) ([]byte, bool, error) {
	data, err := c.repo.Get(ctx, chunkKey(pointer))
	if errors.Is(err, ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	blob, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		// Поврежденная запись: удаляем и считаем промахом
		_ = c.repo.Delete(ctx, chunkKey(pointer))
		return nil, false, fmt.Errorf("распаковка чанка %s: %w", pointer, err)
	}
	return blob, true, nil
}

// SetChunk сохраняет блоб. Пустые блобы не кешируются.
func (c *ChunkCache) SetChunk(ctx context.Context, pointer chain.Address, blob []byte) error {
	if len(blob) == 0 {
		return nil
	}
	return c.repo.Set(ctx, chunkKey(pointer), c.enc.EncodeAll(blob, nil), c.ttl)
}

// Close освобождает кодеки и закрывает хранилище
func (c *ChunkCache) Close() error {
	c.dec.Close()
	_ = c.enc.Close()
	return c.repo.Close()
}

// Stats счетчики нижележащего хранилища
func (c *ChunkCache) Stats() BlobStats {
	return c.repo.Stats()
}
