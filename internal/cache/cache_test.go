package cache

import (
	"bytes"
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/annel0/dust-map/internal/chain"
	"github.com/annel0/dust-map/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	t.Run("Miss", func(t *testing.T) {
		_, err := c.Get(ctx, "absent")
		assert.ErrorIs(t, err, ErrCacheMiss)
	})

	t.Run("Set and Get", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
		v, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), v)
	})

	t.Run("TTL", func(t *testing.T) {
		now := time.Unix(1000, 0)
		c.now = func() time.Time { return now }
		require.NoError(t, c.Set(ctx, "ttl", []byte("x"), time.Second))

		_, err := c.Get(ctx, "ttl")
		require.NoError(t, err)

		now = now.Add(2 * time.Second)
		_, err = c.Get(ctx, "ttl")
		assert.ErrorIs(t, err, ErrCacheMiss, "запись истекла")
		c.now = time.Now
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "d", []byte("x"), 0))
		require.NoError(t, c.Delete(ctx, "d"))
		_, err := c.Get(ctx, "d")
		assert.ErrorIs(t, err, ErrCacheMiss)
	})

	t.Run("Invalid key", func(t *testing.T) {
		assert.ErrorIs(t, c.Set(ctx, "", nil, 0), ErrInvalidKey)
	})

	s := c.Stats()
	assert.Greater(t, s.Hits, int64(0))
	assert.Greater(t, s.Misses, int64(0))
	assert.InDelta(t, float64(s.Hits)/float64(s.Hits+s.Misses), s.HitRatio(), 1e-9)
	assert.Zero(t, BlobStats{}.HitRatio())
}

func TestChunkCache(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryCache()
	cc, err := NewChunkCache(repo, time.Hour)
	require.NoError(t, err)
	defer cc.Close()

	pointer := chain.MustParseAddress("0x00000000000000000000000000000000000000aa")

	t.Run("Miss", func(t *testing.T) {
		blob, ok, err := cc.GetChunk(ctx, pointer)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, blob)
	})

	t.Run("Round trip compressed", func(t *testing.T) {
		blob := make([]byte, 4099)
		blob[0], blob[1] = 1, 7
		for i := 3; i < len(blob); i++ {
			blob[i] = byte(i % 5)
		}
		require.NoError(t, cc.SetChunk(ctx, pointer, blob))

		raw, err := repo.Get(ctx, chunkKey(pointer))
		require.NoError(t, err)
		assert.Less(t, len(raw), len(blob), "блоб хранится сжатым")

		got, ok, err := cc.GetChunk(ctx, pointer)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, bytes.Equal(blob, got))
	})

	t.Run("Empty blob not cached", func(t *testing.T) {
		other := chain.MustParseAddress("0x00000000000000000000000000000000000000bb")
		require.NoError(t, cc.SetChunk(ctx, other, nil))
		_, ok, err := cc.GetChunk(ctx, other)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Corrupted entry", func(t *testing.T) {
		bad := chain.MustParseAddress("0x00000000000000000000000000000000000000cc")
		require.NoError(t, repo.Set(ctx, chunkKey(bad), []byte("not zstd"), 0))

		_, ok, err := cc.GetChunk(ctx, bad)
		assert.Error(t, err)
		assert.False(t, ok)

		_, err = repo.Get(ctx, chunkKey(bad))
		assert.ErrorIs(t, err, ErrCacheMiss, "поврежденная запись удалена")
	})
}

func TestPosKey(t *testing.T) {
	pos := vec.Vec3{X: -17, Y: 64, Z: 2047}
	key := PosKey(pos)
	assert.Equal(t, "block:-17,64,2047", key)

	back, err := ParsePosKey(key)
	require.NoError(t, err)
	assert.Equal(t, pos, back)

	_, err = ParsePosKey("chunk:1,2,3")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = ParsePosKey("block:1,x,3")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

// fakeEvictor запоминает сброшенные координаты
type fakeEvictor struct {
	mu      sync.Mutex
	evicted []vec.Vec3
}

func (f *fakeEvictor) Invalidate(pos vec.Vec3) {
	f.mu.Lock()
	f.evicted = append(f.evicted, pos)
	f.mu.Unlock()
}

// hubInvalidator связывает экземпляры в одном процессе
type hubInvalidator struct {
	mu        sync.Mutex
	handlers  []InvalidationHandler
	published []string
}

func (h *hubInvalidator) PublishInvalidation(ctx context.Context, key string) error {
	h.mu.Lock()
	h.published = append(h.published, key)
	handlers := append([]InvalidationHandler(nil), h.handlers...)
	h.mu.Unlock()
	for _, fn := range handlers {
		_ = fn(key)
	}
	return nil
}

func (h *hubInvalidator) SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error {
	h.mu.Lock()
	h.handlers = append(h.handlers, handler)
	h.mu.Unlock()
	return nil
}

func (h *hubInvalidator) Close() error { return nil }

func TestBlockInvalidation(t *testing.T) {
	ctx := context.Background()
	pos := vec.Vec3{X: 1, Y: 2, Z: 3}

	t.Run("Local only", func(t *testing.T) {
		ev := &fakeEvictor{}
		bi := NewBlockInvalidation(ev, nil)
		require.NoError(t, bi.Start(ctx))
		require.NoError(t, bi.Invalidate(ctx, pos))
		assert.Equal(t, []vec.Vec3{pos}, ev.evicted)
	})

	t.Run("Broadcast", func(t *testing.T) {
		hub := &hubInvalidator{}
		remote := &fakeEvictor{}
		require.NoError(t, NewBlockInvalidation(remote, hub).Start(ctx))

		local := &fakeEvictor{}
		require.NoError(t, NewBlockInvalidation(local, hub).Invalidate(ctx, pos))

		assert.Equal(t, []string{"block:1,2,3"}, hub.published)
		assert.Equal(t, []vec.Vec3{pos}, local.evicted)
		assert.Equal(t, []vec.Vec3{pos}, remote.evicted, "другой экземпляр получил уведомление")
	})

	t.Run("Bad key", func(t *testing.T) {
		ev := &fakeEvictor{}
		bi := NewBlockInvalidation(ev, nil)
		assert.Error(t, bi.handle("garbage"))
		assert.Empty(t, ev.evicted)
	})
}

func TestRedisChunkCache(t *testing.T) {
	addr := os.Getenv("DUST_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DUST_TEST_REDIS_ADDR не задан")
	}
	ctx := context.Background()

	repo, err := NewRedisCache(RedisConfig{Addr: addr, MaxTTL: time.Hour})
	require.NoError(t, err)
	cc, err := NewChunkCache(repo, time.Minute)
	require.NoError(t, err)
	defer cc.Close()

	pointer := chain.MustParseAddress("0x00000000000000000000000000000000000000dd")
	blob := bytes.Repeat([]byte{9}, 4099)
	require.NoError(t, cc.SetChunk(ctx, pointer, blob))

	got, ok, err := cc.GetChunk(ctx, pointer)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, blob, got)
	assert.Greater(t, cc.Stats().Hits, int64(0))
}

func TestNATSInvalidator(t *testing.T) {
	url := os.Getenv("DUST_TEST_NATS_URL")
	if url == "" {
		t.Skip("DUST_TEST_NATS_URL не задан")
	}
	ctx := context.Background()
	subject := "dust.test.invalidate." + time.Now().Format("150405.000")

	a, err := NewNATSInvalidator(&InvalidatorConfig{NATSURL: url, Subject: subject}, "node-a")
	require.NoError(t, err)
	defer a.Close()
	b, err := NewNATSInvalidator(&InvalidatorConfig{NATSURL: url, Subject: subject}, "node-b")
	require.NoError(t, err)
	defer b.Close()

	got := make(chan string, 1)
	require.NoError(t, b.SubscribeInvalidations(ctx, func(key string) error {
		got <- key
		return nil
	}))
	require.NoError(t, b.conn.Flush())

	require.NoError(t, a.PublishInvalidation(ctx, "block:1,2,3"))
	select {
	case key := <-got:
		assert.Equal(t, "block:1,2,3", key)
	case <-time.After(5 * time.Second):
		t.Fatal("уведомление не получено")
	}
}

func TestRecentKeys(t *testing.T) {
	r := newRecentKeys(time.Second)
	now := time.Unix(100, 0)

	assert.True(t, r.first("block:1,2,3", now))
	assert.False(t, r.first("block:1,2,3", now.Add(500*time.Millisecond)), "повтор внутри окна")
	assert.True(t, r.first("block:4,5,6", now.Add(500*time.Millisecond)), "другой ключ")
	assert.True(t, r.first("block:1,2,3", now.Add(2*time.Second)), "окно прошло")

	// старые ключи вычищаются
	r.first("block:7,8,9", now.Add(10*time.Second))
	assert.Len(t, r.keys, 1)
}
