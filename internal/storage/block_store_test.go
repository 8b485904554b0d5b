package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/annel0/dust-map/internal/chain"
	"github.com/annel0/dust-map/internal/config"
	"github.com/annel0/dust-map/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactory создает пустое хранилище для набора тестов
type storeFactory func(t *testing.T) BlockStore

func backends(t *testing.T) map[string]storeFactory {
	f := map[string]storeFactory{
		"memory": func(t *testing.T) BlockStore {
			return NewMemoryBlockStore()
		},
		"badger": func(t *testing.T) BlockStore {
			s, err := NewBadgerBlockStore(filepath.Join(t.TempDir(), "blocks"))
			require.NoError(t, err, "Не удалось создать хранилище")
			return s
		},
		"sqlite": func(t *testing.T) BlockStore {
			s, err := NewSQLiteBlockStore(filepath.Join(t.TempDir(), "map.db"))
			require.NoError(t, err, "Не удалось создать хранилище")
			return s
		},
	}

	// Бэкенды с внешним сервером проверяются только при заданном адресе
	if dsn := os.Getenv("DUST_TEST_MARIA_DSN"); dsn != "" {
		f["maria"] = func(t *testing.T) BlockStore {
			s, err := NewMariaBlockStore(dsn)
			require.NoError(t, err)
			_, err = s.db.Exec("DELETE FROM blocks")
			require.NoError(t, err)
			_, err = s.db.Exec("DELETE FROM ground_level")
			require.NoError(t, err)
			return s
		}
	}
	if uri := os.Getenv("DUST_TEST_MONGO_URI"); uri != "" {
		f["mongo"] = func(t *testing.T) BlockStore {
			s, err := NewMongoBlockStore(MongoConfig{URI: uri, Database: "dust_map_test"})
			require.NoError(t, err)
			ctx := context.Background()
			_, err = s.blocks.DeleteMany(ctx, map[string]interface{}{})
			require.NoError(t, err)
			_, err = s.ground.DeleteMany(ctx, map[string]interface{}{})
			require.NoError(t, err)
			return s
		}
	}
	return f
}

func block(x, y, z int, blockType uint16, biome uint8) IndexedBlock {
	return IndexedBlock{X: x, Y: y, Z: z, BlockType: blockType, Biome: biome, Timestamp: 1700000000000}
}

func TestBlockStores(t *testing.T) {
	for name, factory := range backends(t) {
		factory := factory
		t.Run(name, func(t *testing.T) {
			t.Run("Upsert and Get", func(t *testing.T) {
				testUpsertAndGet(t, factory(t))
			})
			t.Run("Last write wins", func(t *testing.T) {
				testLastWriteWins(t, factory(t))
			})
			t.Run("Range query", func(t *testing.T) {
				testRange(t, factory(t))
			})
			t.Run("Chunk query", func(t *testing.T) {
				testChunk(t, factory(t))
			})
			t.Run("Statistics", func(t *testing.T) {
				testStatistics(t, factory(t))
			})
			t.Run("Ground levels", func(t *testing.T) {
				testGroundLevels(t, factory(t))
			})
			t.Run("Closed", func(t *testing.T) {
				s := factory(t)
				require.NoError(t, s.Close())
				assert.NoError(t, s.Close(), "повторное закрытие безопасно")
			})
		})
	}
}

func testUpsertAndGet(t *testing.T, s BlockStore) {
	defer s.Close()
	ctx := context.Background()

	want := block(-17, 64, 2047, 42, 7)
	require.NoError(t, s.UpsertBlock(ctx, want))

	got, found, err := s.GetBlock(ctx, vec.Vec3{X: -17, Y: 64, Z: 2047})
	require.NoError(t, err)
	require.True(t, found, "Блок не найден")
	assert.Equal(t, want, got)

	_, found, err = s.GetBlock(ctx, vec.Vec3{X: 1, Y: 1, Z: 1})
	require.NoError(t, err)
	assert.False(t, found, "Найден несуществующий блок")

	total, err := s.GetTotalBlocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func testLastWriteWins(t *testing.T, s BlockStore) {
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.UpsertBlock(ctx, block(1, 2, 3, 10, 1)))
	updated := block(1, 2, 3, 11, 2)
	updated.Timestamp++
	require.NoError(t, s.UpsertBlocks(ctx, []IndexedBlock{updated}))

	got, found, err := s.GetBlock(ctx, vec.Vec3{X: 1, Y: 2, Z: 3})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, updated, got)

	total, err := s.GetTotalBlocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total, "повторная запись не создает дубликат")

	assert.NoError(t, s.UpsertBlocks(ctx, nil), "пустой пакет допустим")
}

func testRange(t *testing.T, s BlockStore) {
	defer s.Close()
	ctx := context.Background()

	var batch []IndexedBlock
	for x := -3; x <= 3; x++ {
		for z := -3; z <= 3; z++ {
			batch = append(batch, block(x, 64, z, 5, 1))
		}
	}
	batch = append(batch, block(0, -10, 0, 6, 1), block(0, 200, 0, 7, 1))
	require.NoError(t, s.UpsertBlocks(ctx, batch))

	got, err := s.GetBlocksInRange(ctx, Rect{MinX: -1, MaxX: 0, MinZ: -1, MaxZ: 1})
	require.NoError(t, err)
	// 2*3 колонки на Y=64 плюс два блока колонки (0,0) на других Y
	require.Len(t, got, 8)

	for _, b := range got {
		assert.True(t, b.X >= -1 && b.X <= 0 && b.Z >= -1 && b.Z <= 1, "блок %v вне диапазона", b.Pos())
	}
	// Порядок x, z, y
	assert.Equal(t, vec.Vec3{X: -1, Y: 64, Z: -1}, got[0].Pos())
	assert.Equal(t, vec.Vec3{X: 0, Y: -10, Z: 0}, got[4].Pos())
	assert.Equal(t, vec.Vec3{X: 0, Y: 64, Z: 0}, got[5].Pos())
	assert.Equal(t, vec.Vec3{X: 0, Y: 200, Z: 0}, got[6].Pos())

	empty, err := s.GetBlocksInRange(ctx, Rect{MinX: 100, MaxX: 200, MinZ: 0, MaxZ: 0})
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func testChunk(t *testing.T, s BlockStore) {
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.UpsertBlocks(ctx, []IndexedBlock{
		block(-1, -1, -1, 1, 0),    // чанк (-1,-1,-1)
		block(-16, -16, -16, 2, 0), // чанк (-1,-1,-1)
		block(0, 0, 0, 3, 0),       // чанк (0,0,0)
		block(-17, -1, -1, 4, 0),   // чанк (-2,-1,-1)
		block(-1, 0, -1, 5, 0),     // чанк (-1,0,-1)
	}))

	got, err := s.GetBlocksInChunk(ctx, vec.Vec3{X: -1, Y: -1, Z: -1})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint16(2), got[0].BlockType)
	assert.Equal(t, uint16(1), got[1].BlockType)
}

func testStatistics(t *testing.T, s BlockStore) {
	defer s.Close()
	ctx := context.Background()

	var batch []IndexedBlock
	for i := 0; i < 3; i++ {
		batch = append(batch, block(i, 0, 0, 0, 0))
	}
	for i := 0; i < 2; i++ {
		batch = append(batch, block(i, 1, 0, 1, 0))
	}
	for i := 0; i < 5; i++ {
		batch = append(batch, block(i, 2, 0, 42, 3))
	}
	require.NoError(t, s.UpsertBlocks(ctx, batch))

	stats, err := s.GetBlockStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, BlockStatistics{AirBlocks: 5, SolidBlocks: 5, TotalBlocks: 10}, stats)
}

func testGroundLevels(t *testing.T, s BlockStore) {
	defer s.Close()
	ctx := context.Background()

	gs, ok := s.(GroundLevelStore)
	require.True(t, ok, "хранилище должно поддерживать уровни земли")

	require.NoError(t, gs.UpsertGroundLevels(ctx, []GroundLevelRecord{
		{X: 0, Z: 0, Y: 63, BlockType: 21, Biome: 1},
		{X: 1, Z: -1, Y: 70, BlockType: 22, Biome: 2},
		{X: 5, Z: 5, Y: 10, BlockType: 23, Biome: 3},
	}))
	require.NoError(t, gs.UpsertGroundLevels(ctx, []GroundLevelRecord{
		{X: 0, Z: 0, Y: 64, BlockType: 24, Biome: 1},
	}))

	l, found, err := gs.GetGroundLevel(ctx, 0, 0)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 64, l.Y)
	assert.Equal(t, uint16(24), l.BlockType)

	_, found, err = gs.GetGroundLevel(ctx, 9, 9)
	require.NoError(t, err)
	assert.False(t, found)

	levels, err := gs.GetGroundLevelsInRange(ctx, Rect{MinX: -1, MaxX: 1, MinZ: -1, MaxZ: 1})
	require.NoError(t, err)
	require.Len(t, levels, 2)
	assert.Equal(t, 0, levels[0].X)
	assert.Equal(t, 1, levels[1].X)

	total, err := gs.GetTotalGroundLevels(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total, "повторная запись колонки не создает дубликат")

	blocks, err := s.GetTotalBlocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), blocks, "уровни земли не считаются блоками")
}

func TestBadgerKeyOrder(t *testing.T) {
	// Знаковый порядок сохраняется в байтовом сравнении ключей
	assert.Less(t, string(blockKey(-1, 0, 0)), string(blockKey(0, 0, 0)))
	assert.Less(t, string(blockKey(-100, 5, 5)), string(blockKey(-99, -5, -5)))
	assert.Less(t, string(blockKey(3, -1, 100)), string(blockKey(3, 0, -100)))
}

func TestBadgerBlockStore_CoordRange(t *testing.T) {
	s, err := NewBadgerBlockStore(filepath.Join(t.TempDir(), "blocks"))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	// 2^32 совпал бы с 0 при усечении до int32
	const wrap = 1 << 32
	require.NoError(t, s.UpsertBlock(ctx, block(0, 64, 0, 42, 1)))

	err = s.UpsertBlock(ctx, block(wrap, 64, 0, 7, 1))
	assert.ErrorIs(t, err, chain.ErrCoordOutOfRange)

	_, _, err = s.GetBlock(ctx, vec.Vec3{X: wrap, Y: 64, Z: 0})
	assert.ErrorIs(t, err, chain.ErrCoordOutOfRange)

	got, found, err := s.GetBlock(ctx, vec.Vec3{X: 0, Y: 64, Z: 0})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint16(42), got.BlockType, "блок не перезаписан")

	blocks, err := s.GetBlocksInRange(ctx, Rect{MinX: wrap, MaxX: wrap, MinZ: 0, MaxZ: 0})
	require.NoError(t, err)
	assert.Empty(t, blocks, "диапазон вне int32 пуст")

	blocks, err = s.GetBlocksInRange(ctx, Rect{MinX: -wrap, MaxX: wrap, MinZ: 0, MaxZ: 0})
	require.NoError(t, err)
	assert.Len(t, blocks, 1, "диапазон сужается до int32")

	blocks, err = s.GetBlocksInChunk(ctx, vec.Vec3{X: wrap / 16, Y: 4, Z: 0})
	require.NoError(t, err)
	assert.Empty(t, blocks)

	err = s.UpsertGroundLevels(ctx, []GroundLevelRecord{{X: 0, Z: -wrap - 1, Y: 1}})
	assert.ErrorIs(t, err, chain.ErrCoordOutOfRange)
	_, _, err = s.GetGroundLevel(ctx, wrap, 0)
	assert.ErrorIs(t, err, chain.ErrCoordOutOfRange)
}

func TestMemoryBlockStore_Closed(t *testing.T) {
	s := NewMemoryBlockStore()
	require.NoError(t, s.Close())

	err := s.UpsertBlock(context.Background(), block(0, 0, 0, 1, 0))
	assert.ErrorIs(t, err, ErrStoreClosed)

	_, _, err = s.GetBlock(context.Background(), vec.Vec3{})
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestMemoryBlockStore_Cancelled(t *testing.T) {
	s := NewMemoryBlockStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.UpsertBlock(ctx, block(0, 0, 0, 1, 0)), context.Canceled)
}

func TestOpen(t *testing.T) {
	t.Run("Memory", func(t *testing.T) {
		s, err := Open(&config.StorageConfig{Backend: "memory"})
		require.NoError(t, err)
		_, ok := s.(*MemoryBlockStore)
		assert.True(t, ok)
		require.NoError(t, s.Close())
	})

	t.Run("SQLite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "map.db")
		s, err := Open(&config.StorageConfig{Backend: "sqlite", Path: path})
		require.NoError(t, err)
		defer s.Close()
		_, err = os.Stat(path)
		assert.NoError(t, err, "файл базы создан")
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := Open(&config.StorageConfig{Backend: "leveldb"})
		assert.Error(t, err)
	})
}
