package app

import (
	"context"
	"testing"

	"github.com/annel0/dust-map/internal/config"
	"github.com/annel0/dust-map/internal/vec"
	"github.com/annel0/dust-map/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("DUST_NATS_URL", "")
	t.Setenv("DUST_REDIS_ADDR", "")
	t.Setenv("DUST_WS_URL", "")
	return &config.Config{
		Storage: config.StorageConfig{Backend: "memory"},
		Cache:   config.CacheConfig{DecodeCacheSize: 1000},
	}
}

func TestNew(t *testing.T) {
	a, err := New(memoryConfig(t))
	require.NoError(t, err)

	assert.NotNil(t, a.Ledger)
	assert.NotNil(t, a.Gateway)
	assert.NotNil(t, a.Store)
	assert.NotNil(t, a.Bus)
	assert.NotNil(t, a.Indexer)
	assert.NotEmpty(t, a.NodeID)
	assert.Nil(t, a.Invalidation, "инвалидация собирается в StartBackground")
	assert.Equal(t, world.ObjectTypeAir, mustLookup(t, a.Gateway, "Air"))

	families, err := a.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families, "метрики шлюза, индексатора и RPC зарегистрированы")

	require.NoError(t, a.Close())
	assert.NoError(t, a.Close(), "повторное закрытие безопасно")
}

func mustLookup(t *testing.T, gw *world.Gateway, name string) uint16 {
	t.Helper()
	for _, ot := range gw.ObjectTypes().All() {
		if ot.Name == name {
			return ot.ID
		}
	}
	t.Fatalf("тип %s не найден", name)
	return 0
}

func TestNew_BadWorldAddress(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Ledger.WorldAddress = "0x123"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNew_UnknownBackend(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Storage.Backend = "cassandra"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestStartBackground_Local(t *testing.T) {
	a, err := New(memoryConfig(t))
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.StartBackground(ctx))
	require.NotNil(t, a.Invalidation)

	// без NATS сброс только локальный
	assert.NoError(t, a.Invalidation.Invalidate(ctx, vec.Vec3{X: 1, Y: 2, Z: 3}))
}
