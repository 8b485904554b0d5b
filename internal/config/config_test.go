package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DUST_MAP_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg, "без файла возвращается пустая конфигурация")

	assert.Equal(t, 50, cfg.Indexing.GetBatchSize())
	assert.Equal(t, 50*time.Millisecond, cfg.Indexing.GetBatchPause())
	assert.Equal(t, 30*time.Second, cfg.Indexing.GetFetchTimeout())
	assert.Equal(t, 64, cfg.Indexing.GetDefaultY())
	assert.Equal(t, 8088, cfg.Server.GetRESTPort())
	assert.Equal(t, "badger", cfg.Storage.GetBackend())
	assert.Equal(t, "data/blocks", cfg.Storage.GetPath())
	assert.True(t, cfg.World.GetEnforceBounds())
	assert.Equal(t, 0, cfg.Cache.GetDecodeCacheSize())
	assert.Equal(t, DefaultWorldAddress, cfg.Ledger.GetWorldAddress())
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
ledger:
  rpc_url: http://localhost:8545
  world_address: "0x0000000000000000000000000000000000000001"
storage:
  backend: SQLite
indexing:
  batch_size: 10
  batch_pause_ms: 5
  default_y: 0
world:
  enforce_bounds: false
server:
  rest_port: 9090
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8545", cfg.Ledger.GetRPCURL())
	assert.Equal(t, "sqlite", cfg.Storage.GetBackend())
	assert.Equal(t, "data/map.db", cfg.Storage.GetPath())
	assert.Equal(t, 10, cfg.Indexing.GetBatchSize())
	assert.Equal(t, 5*time.Millisecond, cfg.Indexing.GetBatchPause())
	assert.Equal(t, 0, cfg.Indexing.GetDefaultY(), "явный Y=0 не заменяется дефолтом")
	assert.False(t, cfg.World.GetEnforceBounds())
	assert.Equal(t, 9090, cfg.Server.GetRESTPort())
}

func TestLoad_EnvPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "env.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  rest_port: 7001\n"), 0644))
	t.Setenv("DUST_MAP_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7001, cfg.Server.GetRESTPort())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [oops"), 0644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestEnvFallback(t *testing.T) {
	t.Setenv("DUST_REST_PORT", "9999")
	t.Setenv("DUST_BATCH_SIZE", "-3")
	t.Setenv("DUST_STORAGE_BACKEND", "Memory")

	var cfg Config
	assert.Equal(t, 9999, cfg.Server.GetRESTPort())
	assert.Equal(t, 50, cfg.Indexing.GetBatchSize(), "некорректное значение env игнорируется")
	assert.Equal(t, "memory", cfg.Storage.GetBackend())

	// Значение из конфига приоритетнее env
	cfg.Server.RESTPort = 1234
	assert.Equal(t, 1234, cfg.Server.GetRESTPort())
}
