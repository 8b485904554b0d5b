package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/annel0/dust-map/internal/chain"
	"github.com/annel0/dust-map/internal/vec"
	"github.com/dgraph-io/badger/v3"
)

// Префиксы ключей BadgerDB
var (
	blockPrefix  = []byte("block:")
	groundPrefix = []byte("ground:")
)

// BadgerBlockStore хранилище блоков на BadgerDB (по умолчанию).
// Ключ block:<x><z><y> в порядке сортировки знаковых чисел, поэтому
// выборка диапазона X - это один проход итератора.
type BadgerBlockStore struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool
}

// NewBadgerBlockStore открывает (или создает) базу в каталоге path
func NewBadgerBlockStore(path string) (*BadgerBlockStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &BadgerBlockStore{
		db:      db,
		dbPath:  path,
		isReady: true,
	}, nil
}

// Close закрывает хранилище данных
func (s *BadgerBlockStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isReady {
		return nil
	}

	s.isReady = false
	return s.db.Close()
}

// ordered переводит int32 в uint32 с сохранением порядка (инверсия знакового бита).
// Значения вне int32 отсекаются раньше: checkVec / clampX.
func ordered(v int) uint32 {
	return uint32(int32(v)) ^ 0x80000000
}

// checkVec отклоняет координаты, не помещающиеся в ключ (32 бита на ось)
func checkVec(v vec.Vec3) error {
	if err := chain.CheckVec3(v); err != nil {
		return fmt.Errorf("ключ BadgerDB: %w", err)
	}
	return nil
}

// clampX сужает диапазон x до int32; ok=false, если пересечения нет
func clampX(minX, maxX int) (int, int, bool) {
	if minX > maxX || maxX < math.MinInt32 || minX > math.MaxInt32 {
		return 0, 0, false
	}
	return max(minX, math.MinInt32), min(maxX, math.MaxInt32), true
}

func blockKey(x, z, y int) []byte {
	key := make([]byte, len(blockPrefix)+12)
	n := copy(key, blockPrefix)
	binary.BigEndian.PutUint32(key[n:], ordered(x))
	binary.BigEndian.PutUint32(key[n+4:], ordered(z))
	binary.BigEndian.PutUint32(key[n+8:], ordered(y))
	return key
}

func groundKey(x, z int) []byte {
	key := make([]byte, len(groundPrefix)+8)
	n := copy(key, groundPrefix)
	binary.BigEndian.PutUint32(key[n:], ordered(x))
	binary.BigEndian.PutUint32(key[n+4:], ordered(z))
	return key
}

func (s *BadgerBlockStore) UpsertBlock(ctx context.Context, b IndexedBlock) error {
	return s.UpsertBlocks(ctx, []IndexedBlock{b})
}

// UpsertBlocks пишет пакет через WriteBatch (без ограничения размера транзакции)
func (s *BadgerBlockStore) UpsertBlocks(ctx context.Context, blocks []IndexedBlock) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return ErrStoreClosed
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, b := range blocks {
		if err := checkVec(b.Pos()); err != nil {
			return err
		}
		data, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("ошибка сериализации блока %s: %w", b.Pos(), err)
		}
		if err := wb.Set(blockKey(b.X, b.Z, b.Y), data); err != nil {
			return fmt.Errorf("ошибка записи блока %s в BadgerDB: %w", b.Pos(), err)
		}
	}

	if err := wb.Flush(); err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

func (s *BadgerBlockStore) GetBlock(ctx context.Context, pos vec.Vec3) (IndexedBlock, bool, error) {
	if err := checkCtx(ctx); err != nil {
		return IndexedBlock{}, false, err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return IndexedBlock{}, false, ErrStoreClosed
	}
	if err := checkVec(pos); err != nil {
		return IndexedBlock{}, false, err
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(pos.X, pos.Z, pos.Y))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return IndexedBlock{}, false, nil
	}
	if err != nil {
		return IndexedBlock{}, false, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}

	var b IndexedBlock
	if err := json.Unmarshal(data, &b); err != nil {
		return IndexedBlock{}, false, fmt.Errorf("ошибка десериализации блока %s: %w", pos, err)
	}
	return b, true, nil
}

func (s *BadgerBlockStore) GetBlocksInRange(ctx context.Context, r Rect) ([]IndexedBlock, error) {
	return s.scanX(ctx, r.MinX, r.MaxX, func(b IndexedBlock) bool {
		return b.Z >= r.MinZ && b.Z <= r.MaxZ
	})
}

func (s *BadgerBlockStore) GetBlocksInChunk(ctx context.Context, chunk vec.Vec3) ([]IndexedBlock, error) {
	lo, hi := ChunkBounds(chunk)
	return s.scanX(ctx, lo.X, hi.X, func(b IndexedBlock) bool {
		return b.Z >= lo.Z && b.Z <= hi.Z && b.Y >= lo.Y && b.Y <= hi.Y
	})
}

// scanX проходит ключи с x в [minX, maxX] и фильтрует остальные оси
func (s *BadgerBlockStore) scanX(ctx context.Context, minX, maxX int, keep func(IndexedBlock) bool) ([]IndexedBlock, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return nil, ErrStoreClosed
	}

	result := make([]IndexedBlock, 0)
	minX, maxX, ok := clampX(minX, maxX)
	if !ok {
		return result, nil
	}
	start := blockKey(minX, math.MinInt32, math.MinInt32)
	end := blockKey(maxX, math.MaxInt32, math.MaxInt32)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(start); it.ValidForPrefix(blockPrefix); it.Next() {
			item := it.Item()
			if bytes.Compare(item.Key(), end) > 0 {
				break
			}
			var b IndexedBlock
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &b)
			}); err != nil {
				return fmt.Errorf("ошибка десериализации блока: %w", err)
			}
			if keep(b) {
				result = append(result, b)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	return result, nil
}

// GetTotalBlocks считает ключи без чтения значений
func (s *BadgerBlockStore) GetTotalBlocks(ctx context.Context) (int64, error) {
	return s.countPrefix(ctx, blockPrefix)
}

func (s *BadgerBlockStore) countPrefix(ctx context.Context, prefix []byte) (int64, error) {
	if err := checkCtx(ctx); err != nil {
		return 0, err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return 0, ErrStoreClosed
	}

	var count int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	return count, nil
}

func (s *BadgerBlockStore) GetBlockStatistics(ctx context.Context) (BlockStatistics, error) {
	all, err := s.scanX(ctx, math.MinInt32, math.MaxInt32, func(IndexedBlock) bool { return true })
	if err != nil {
		return BlockStatistics{}, err
	}
	return statsOf(all), nil
}

// GetTotalGroundLevels считает ключи ground: без чтения значений
func (s *BadgerBlockStore) GetTotalGroundLevels(ctx context.Context) (int64, error) {
	return s.countPrefix(ctx, groundPrefix)
}

func (s *BadgerBlockStore) UpsertGroundLevels(ctx context.Context, levels []GroundLevelRecord) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return ErrStoreClosed
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, l := range levels {
		if err := checkVec(vec.Vec3{X: l.X, Z: l.Z}); err != nil {
			return err
		}
		data, err := json.Marshal(l)
		if err != nil {
			return fmt.Errorf("ошибка сериализации уровня земли (%d,%d): %w", l.X, l.Z, err)
		}
		if err := wb.Set(groundKey(l.X, l.Z), data); err != nil {
			return fmt.Errorf("ошибка записи уровня земли в BadgerDB: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

func (s *BadgerBlockStore) GetGroundLevel(ctx context.Context, x, z int) (GroundLevelRecord, bool, error) {
	if err := checkCtx(ctx); err != nil {
		return GroundLevelRecord{}, false, err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return GroundLevelRecord{}, false, ErrStoreClosed
	}
	if err := checkVec(vec.Vec3{X: x, Z: z}); err != nil {
		return GroundLevelRecord{}, false, err
	}

	var l GroundLevelRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(groundKey(x, z))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &l)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return GroundLevelRecord{}, false, nil
	}
	if err != nil {
		return GroundLevelRecord{}, false, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	return l, true, nil
}

func (s *BadgerBlockStore) GetGroundLevelsInRange(ctx context.Context, r Rect) ([]GroundLevelRecord, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if !s.isReady {
		return nil, ErrStoreClosed
	}

	result := make([]GroundLevelRecord, 0)
	minX, maxX, ok := clampX(r.MinX, r.MaxX)
	if !ok {
		return result, nil
	}
	start := groundKey(minX, math.MinInt32)
	end := groundKey(maxX, math.MaxInt32)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(start); it.ValidForPrefix(groundPrefix); it.Next() {
			item := it.Item()
			if bytes.Compare(item.Key(), end) > 0 {
				break
			}
			var l GroundLevelRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &l)
			}); err != nil {
				return fmt.Errorf("ошибка десериализации уровня земли: %w", err)
			}
			if l.Z >= r.MinZ && l.Z <= r.MaxZ {
				result = append(result, l)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	return result, nil
}
