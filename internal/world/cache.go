package world

import (
	"fmt"
	"sync"

	"github.com/annel0/dust-map/internal/vec"
	"github.com/dgraph-io/ristretto"
)

// BlockCache кэш декодированных блоков, принадлежащий одному Gateway
type BlockCache interface {
	Get(pos vec.Vec3) (BlockData, bool)
	Set(pos vec.Vec3, data BlockData)
	Delete(pos vec.Vec3)
	Clear()
	Len() int
}

// MapBlockCache неограниченный кэш на карте
type MapBlockCache struct {
	mu sync.RWMutex
	m  map[vec.Vec3]BlockData
}

// NewMapBlockCache создает пустой неограниченный кэш
func NewMapBlockCache() *MapBlockCache {
	return &MapBlockCache{m: make(map[vec.Vec3]BlockData)}
}

func (c *MapBlockCache) Get(pos vec.Vec3) (BlockData, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.m[pos]
	return d, ok
}

func (c *MapBlockCache) Set(pos vec.Vec3, data BlockData) {
	c.mu.Lock()
	c.m[pos] = data
	c.mu.Unlock()
}

func (c *MapBlockCache) Delete(pos vec.Vec3) {
	c.mu.Lock()
	delete(c.m, pos)
	c.mu.Unlock()
}

func (c *MapBlockCache) Clear() {
	c.mu.Lock()
	c.m = make(map[vec.Vec3]BlockData)
	c.mu.Unlock()
}

func (c *MapBlockCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// RistrettoBlockCache кэш с ограничением числа записей (вытеснение TinyLFU).
// Набор принятых ключей ведется отдельно: метрики ristretto не учитывают Del и Clear.
type RistrettoBlockCache struct {
	c *ristretto.Cache

	mu   sync.Mutex
	keys map[vec.Vec3]struct{}
}

// cachedBlock значение в ristretto; позиция нужна при вытеснении
type cachedBlock struct {
	pos  vec.Vec3
	data BlockData
}

// NewRistrettoBlockCache создает кэш не более чем на maxEntries блоков
func NewRistrettoBlockCache(maxEntries int) (*RistrettoBlockCache, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("ristretto cache size must be positive, got %d", maxEntries)
	}
	r := &RistrettoBlockCache{keys: make(map[vec.Vec3]struct{})}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(maxEntries) * 10,
		MaxCost:     int64(maxEntries),
		BufferItems: 64,
		OnEvict: func(item *ristretto.Item) {
			if e, ok := item.Value.(cachedBlock); ok {
				r.forget(e.pos)
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto: %w", err)
	}
	r.c = c
	return r, nil
}

func (r *RistrettoBlockCache) Get(pos vec.Vec3) (BlockData, bool) {
	v, ok := r.c.Get(pos.String())
	if !ok {
		return BlockData{}, false
	}
	e, ok := v.(cachedBlock)
	return e.data, ok
}

// Set добавляет запись; ristretto может отклонить ее политикой допуска
func (r *RistrettoBlockCache) Set(pos vec.Vec3, data BlockData) {
	key := pos.String()
	r.c.Set(key, cachedBlock{pos: pos, data: data}, 1)
	r.c.Wait()
	if _, ok := r.c.Get(key); ok {
		r.mu.Lock()
		r.keys[pos] = struct{}{}
		r.mu.Unlock()
	}
}

func (r *RistrettoBlockCache) Delete(pos vec.Vec3) {
	r.c.Del(pos.String())
	r.forget(pos)
}

func (r *RistrettoBlockCache) Clear() {
	r.c.Clear()
	r.mu.Lock()
	r.keys = make(map[vec.Vec3]struct{})
	r.mu.Unlock()
}

// Len число принятых и еще не удаленных записей
func (r *RistrettoBlockCache) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}

func (r *RistrettoBlockCache) forget(pos vec.Vec3) {
	r.mu.Lock()
	delete(r.keys, pos)
	r.mu.Unlock()
}

// Close освобождает горутины ristretto
func (r *RistrettoBlockCache) Close() {
	r.c.Close()
}
