package storage

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/annel0/dust-map/internal/vec"
)

// ErrStoreClosed возвращается при обращении к закрытому хранилищу
var ErrStoreClosed = errors.New("storage: хранилище закрыто")

// IndexedBlock результат декодирования одной координаты.
// Ключ - (x, y, z); повторная индексация перезаписывает запись целиком.
type IndexedBlock struct {
	X         int    `json:"x" bson:"x"`
	Y         int    `json:"y" bson:"y"`
	Z         int    `json:"z" bson:"z"`
	BlockType uint16 `json:"blockType" bson:"blockType"`
	Biome     uint8  `json:"biome" bson:"biome"`
	Timestamp int64  `json:"timestamp" bson:"timestamp"` // epoch ms
}

// NewIndexedBlock создает запись с текущим временем
func NewIndexedBlock(pos vec.Vec3, blockType uint16, biome uint8) IndexedBlock {
	return IndexedBlock{
		X:         pos.X,
		Y:         pos.Y,
		Z:         pos.Z,
		BlockType: blockType,
		Biome:     biome,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Pos координата записи
func (b IndexedBlock) Pos() vec.Vec3 {
	return vec.Vec3{X: b.X, Y: b.Y, Z: b.Z}
}

// BlockStatistics сводка по хранилищу. Типы 0 и 1 считаются воздухом.
type BlockStatistics struct {
	AirBlocks   int64 `json:"airBlocks"`
	SolidBlocks int64 `json:"solidBlocks"`
	TotalBlocks int64 `json:"totalBlocks"`
}

// IsAirBlockType классификация для статистики
func IsAirBlockType(t uint16) bool {
	return t == 0 || t == 1
}

// Rect прямоугольник по X/Z, границы включительно
type Rect struct {
	MinX int `json:"minX"`
	MaxX int `json:"maxX"`
	MinZ int `json:"minZ"`
	MaxZ int `json:"maxZ"`
}

// Contains проверяет попадание колонки (x, z)
func (r Rect) Contains(x, z int) bool {
	return x >= r.MinX && x <= r.MaxX && z >= r.MinZ && z <= r.MaxZ
}

// ChunkBounds мировые координаты чанка как пара углов
func ChunkBounds(chunk vec.Vec3) (lo, hi vec.Vec3) {
	lo = vec.ChunkOrigin(chunk)
	hi = vec.Vec3{X: lo.X + vec.ChunkSize - 1, Y: lo.Y + vec.ChunkSize - 1, Z: lo.Z + vec.ChunkSize - 1}
	return lo, hi
}

// BlockStore локальное хранилище проиндексированных блоков.
// Гарантия одна: последняя запись по ключу побеждает.
type BlockStore interface {
	// UpsertBlock записывает или заменяет блок по (x, y, z)
	UpsertBlock(ctx context.Context, b IndexedBlock) error

	// UpsertBlocks пакетная запись. Частичный успех допустим,
	// первая ошибка возвращается вызывающему.
	UpsertBlocks(ctx context.Context, blocks []IndexedBlock) error

	// GetBlock загружает блок.
	//
	// Возвращает:
	//   - IndexedBlock - запись
	//   - bool - true, если запись найдена
	//   - error - ошибка хранилища
	GetBlock(ctx context.Context, pos vec.Vec3) (IndexedBlock, bool, error)

	// GetBlocksInRange возвращает блоки прямоугольника по X/Z на всех Y.
	// Порядок: x, затем z, затем y по возрастанию.
	GetBlocksInRange(ctx context.Context, r Rect) ([]IndexedBlock, error)

	// GetBlocksInChunk возвращает блоки чанка с координатами chunk
	GetBlocksInChunk(ctx context.Context, chunk vec.Vec3) ([]IndexedBlock, error)

	GetTotalBlocks(ctx context.Context) (int64, error)

	GetBlockStatistics(ctx context.Context) (BlockStatistics, error)

	Close() error
}

// GroundLevelRecord сохраненный уровень земли колонки (x, z)
type GroundLevelRecord struct {
	X         int    `json:"x" bson:"x"`
	Z         int    `json:"z" bson:"z"`
	Y         int    `json:"y" bson:"y"`
	BlockType uint16 `json:"blockType" bson:"blockType"`
	Biome     uint8  `json:"biome" bson:"biome"`
}

// GroundLevelStore необязательное расширение хранилища для уровней земли.
// Проверяется через приведение типа: if gs, ok := store.(GroundLevelStore).
type GroundLevelStore interface {
	UpsertGroundLevels(ctx context.Context, levels []GroundLevelRecord) error
	GetGroundLevel(ctx context.Context, x, z int) (GroundLevelRecord, bool, error)
	GetGroundLevelsInRange(ctx context.Context, r Rect) ([]GroundLevelRecord, error)
	GetTotalGroundLevels(ctx context.Context) (int64, error)
}

// sortBlocks упорядочивает результат по x, z, y
func sortBlocks(blocks []IndexedBlock) {
	sort.Slice(blocks, func(i, j int) bool {
		a, b := blocks[i], blocks[j]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		return a.Y < b.Y
	})
}

func sortGround(levels []GroundLevelRecord) {
	sort.Slice(levels, func(i, j int) bool {
		if levels[i].X != levels[j].X {
			return levels[i].X < levels[j].X
		}
		return levels[i].Z < levels[j].Z
	})
}

// statsOf считает статистику по срезу (используется бэкендами без агрегатов)
func statsOf(blocks []IndexedBlock) BlockStatistics {
	var s BlockStatistics
	for _, b := range blocks {
		if IsAirBlockType(b.BlockType) {
			s.AirBlocks++
		} else {
			s.SolidBlocks++
		}
	}
	s.TotalBlocks = s.AirBlocks + s.SolidBlocks
	return s
}
