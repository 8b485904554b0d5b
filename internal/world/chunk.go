// Package world декодирует данные мира DUST: чанки SSTORE2, записи
// переопределения блоков и производные запросы (уровень земли, анализ столбца).
package world

import (
	"errors"
	"fmt"

	"github.com/annel0/dust-map/internal/vec"
)

// Разметка блоба чанка
const (
	// SSTORE2DataOffset первый байт кода контракта SSTORE2 (STOP), не часть данных
	SSTORE2DataOffset = 1

	versionOffset = 0
	biomeOffset   = 1
	surfaceOffset = 2

	// ChunkHeaderSize версия + биом + поверхность
	ChunkHeaderSize = 3
	// ChunkBlobSize ожидаемая длина блоба сгенерированного чанка
	ChunkBlobSize = ChunkHeaderSize + vec.ChunkVolume
)

// ErrChunkIntegrity чтение за пределами непустого блоба чанка
var ErrChunkIntegrity = errors.New("chunk blob integrity error")

// BlockData результат декодирования одного вокселя.
// BlockType - ObjectType мира; из чанка приходит байт, из записи переопределения uint16.
type BlockData struct {
	BlockType uint16 `json:"blockType"`
	Biome     uint8  `json:"biome"`
}

// IsAir true для типов 0 (Null) и 1 (Air)
func (d BlockData) IsAir() bool {
	return IsAirType(d.BlockType)
}

// IsAirType классификация, общая для статистики и поиска земли
func IsAirType(t uint16) bool {
	return t == ObjectTypeNull || t == ObjectTypeAir
}

// ChunkBlob данные одного чанка без смещения SSTORE2.
// Пустой блоб - чанк не исследован (все воксели - воздух, биом 0).
type ChunkBlob []byte

// ChunkBlobFromCode выделяет данные чанка из runtime-кода SSTORE2 контракта
func ChunkBlobFromCode(code []byte) ChunkBlob {
	if len(code) <= SSTORE2DataOffset {
		return nil
	}
	return ChunkBlob(code[SSTORE2DataOffset:])
}

// IsEmpty true для неисследованного чанка
func (b ChunkBlob) IsEmpty() bool {
	return len(b) == 0
}

// Version байт версии формата (0 для пустого блоба)
func (b ChunkBlob) Version() uint8 {
	if len(b) <= versionOffset {
		return 0
	}
	return b[versionOffset]
}

// Biome байт биома (0 для пустого блоба)
func (b ChunkBlob) Biome() uint8 {
	if len(b) <= biomeOffset {
		return 0
	}
	return b[biomeOffset]
}

// Surface байт признака поверхности
func (b ChunkBlob) Surface() uint8 {
	if len(b) <= surfaceOffset {
		return 0
	}
	return b[surfaceOffset]
}

// Validate проверяет длину непустого блоба
func (b ChunkBlob) Validate() error {
	if b.IsEmpty() || len(b) == ChunkBlobSize {
		return nil
	}
	return fmt.Errorf("blob length %d, expected %d: %w", len(b), ChunkBlobSize, ErrChunkIntegrity)
}

// DecodeBlock извлекает тип блока и биом для мировой координаты pos.
// Пустой блоб дает {0, 0}; чтение за пределами непустого блоба - ErrChunkIntegrity.
func DecodeBlock(blob ChunkBlob, pos vec.Vec3) (BlockData, error) {
	if blob.IsEmpty() {
		return BlockData{}, nil
	}

	offset := ChunkHeaderSize + pos.IndexInChunk()
	if offset >= len(blob) {
		return BlockData{}, fmt.Errorf("block %s at offset %d, blob length %d: %w",
			pos, offset, len(blob), ErrChunkIntegrity)
	}

	return BlockData{
		BlockType: uint16(blob[offset]),
		Biome:     blob[biomeOffset],
	}, nil
}
