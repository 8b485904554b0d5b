package storage

import (
	"context"
	"sync"

	"github.com/annel0/dust-map/internal/vec"
)

type columnKey struct{ x, z int }

// MemoryBlockStore реализует BlockStore и GroundLevelStore в памяти.
// Используется в тестах и для одноразовых прогонов CLI.
// ВНИМАНИЕ: данные теряются при перезапуске!
type MemoryBlockStore struct {
	mu     sync.RWMutex
	blocks map[vec.Vec3]IndexedBlock
	ground map[columnKey]GroundLevelRecord
	closed bool
}

// NewMemoryBlockStore создает пустое хранилище в памяти
func NewMemoryBlockStore() *MemoryBlockStore {
	return &MemoryBlockStore{
		blocks: make(map[vec.Vec3]IndexedBlock),
		ground: make(map[columnKey]GroundLevelRecord),
	}
}

// checkCtx проверяет отмену контекста
func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (m *MemoryBlockStore) UpsertBlock(ctx context.Context, b IndexedBlock) error {
	return m.UpsertBlocks(ctx, []IndexedBlock{b})
}

func (m *MemoryBlockStore) UpsertBlocks(ctx context.Context, blocks []IndexedBlock) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	for _, b := range blocks {
		m.blocks[b.Pos()] = b
	}
	return nil
}

func (m *MemoryBlockStore) GetBlock(ctx context.Context, pos vec.Vec3) (IndexedBlock, bool, error) {
	if err := checkCtx(ctx); err != nil {
		return IndexedBlock{}, false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return IndexedBlock{}, false, ErrStoreClosed
	}
	b, ok := m.blocks[pos]
	return b, ok, nil
}

func (m *MemoryBlockStore) GetBlocksInRange(ctx context.Context, r Rect) ([]IndexedBlock, error) {
	return m.filter(ctx, func(b IndexedBlock) bool { return r.Contains(b.X, b.Z) })
}

func (m *MemoryBlockStore) GetBlocksInChunk(ctx context.Context, chunk vec.Vec3) ([]IndexedBlock, error) {
	return m.filter(ctx, func(b IndexedBlock) bool { return b.Pos().ToChunk() == chunk })
}

// filter полный перебор; объем данных инструмента это допускает
func (m *MemoryBlockStore) filter(ctx context.Context, keep func(IndexedBlock) bool) ([]IndexedBlock, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	result := make([]IndexedBlock, 0)
	for _, b := range m.blocks {
		if keep(b) {
			result = append(result, b)
		}
	}
	sortBlocks(result)
	return result, nil
}

func (m *MemoryBlockStore) GetTotalBlocks(ctx context.Context) (int64, error) {
	if err := checkCtx(ctx); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStoreClosed
	}
	return int64(len(m.blocks)), nil
}

func (m *MemoryBlockStore) GetBlockStatistics(ctx context.Context) (BlockStatistics, error) {
	all, err := m.filter(ctx, func(IndexedBlock) bool { return true })
	if err != nil {
		return BlockStatistics{}, err
	}
	return statsOf(all), nil
}

func (m *MemoryBlockStore) GetTotalGroundLevels(ctx context.Context) (int64, error) {
	if err := checkCtx(ctx); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStoreClosed
	}
	return int64(len(m.ground)), nil
}

func (m *MemoryBlockStore) UpsertGroundLevels(ctx context.Context, levels []GroundLevelRecord) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	for _, l := range levels {
		m.ground[columnKey{l.X, l.Z}] = l
	}
	return nil
}

func (m *MemoryBlockStore) GetGroundLevel(ctx context.Context, x, z int) (GroundLevelRecord, bool, error) {
	if err := checkCtx(ctx); err != nil {
		return GroundLevelRecord{}, false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return GroundLevelRecord{}, false, ErrStoreClosed
	}
	l, ok := m.ground[columnKey{x, z}]
	return l, ok, nil
}

func (m *MemoryBlockStore) GetGroundLevelsInRange(ctx context.Context, r Rect) ([]GroundLevelRecord, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	result := make([]GroundLevelRecord, 0)
	for _, l := range m.ground {
		if r.Contains(l.X, l.Z) {
			result = append(result, l)
		}
	}
	sortGround(result)
	return result, nil
}

// Close помечает хранилище закрытым; повторный вызов безопасен
func (m *MemoryBlockStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
