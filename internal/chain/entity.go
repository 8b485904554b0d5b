package chain

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/annel0/dust-map/internal/vec"
)

// Разметка EntityId: старший байт - тип сущности, остальные 248 бит - данные.
const (
	entityIDBits = 248
	vec3Bits     = 96
	// packedShift сдвиг упакованной координаты внутри данных EntityId (248 - 96 бит).
	packedShift = entityIDBits - vec3Bits
)

// EntityType дискриминатор в старшем байте EntityId.
type EntityType byte

const (
	EntityTypeIncremental EntityType = 0x00
	EntityTypePlayer      EntityType = 0x01
	EntityTypeFragment    EntityType = 0x02
	EntityTypeBlock       EntityType = 0x03
)

// String возвращает имя типа сущности
func (t EntityType) String() string {
	switch t {
	case EntityTypeIncremental:
		return "Incremental"
	case EntityTypePlayer:
		return "Player"
	case EntityTypeFragment:
		return "Fragment"
	case EntityTypeBlock:
		return "Block"
	default:
		return fmt.Sprintf("EntityType(0x%02x)", byte(t))
	}
}

// HasCoord сообщает, кодирует ли тип координату в данных EntityId.
func (t EntityType) HasCoord() bool {
	return t == EntityTypeBlock || t == EntityTypeFragment
}

var (
	// ErrCoordOutOfRange координата не помещается в int32 (нарушение контракта вызывающего).
	ErrCoordOutOfRange = errors.New("coordinate out of int32 range")
	// ErrNotCoordEntity EntityId не несет координату (тип Incremental/Player).
	ErrNotCoordEntity = errors.New("entity id does not encode a coordinate")
)

// Packed96 три int32, упакованные в 96-битное беззнаковое число (big-endian):
// x в старших 32 битах, y в средних, z в младших.
type Packed96 [12]byte

// PackVec3 упаковывает знаковые 32-битные оси, сохраняя битовое представление
// в дополнительном коде: -1 упаковывается как 0xFFFFFFFF.
func PackVec3(x, y, z int32) Packed96 {
	var p Packed96
	binary.BigEndian.PutUint32(p[0:4], uint32(x))
	binary.BigEndian.PutUint32(p[4:8], uint32(y))
	binary.BigEndian.PutUint32(p[8:12], uint32(z))
	return p
}

// PackPos упаковывает vec.Vec3. Оси вне диапазона int32 усекаются;
// вызывающий обязан проверить их через CheckVec3.
func PackPos(v vec.Vec3) Packed96 {
	return PackVec3(int32(v.X), int32(v.Y), int32(v.Z))
}

// Big возвращает упакованное значение как uint96.
func (p Packed96) Big() *big.Int {
	return new(big.Int).SetBytes(p[:])
}

// Bytes32 возвращает значение, дополненное нулями слева до 32 байт (bytes32 соль).
func (p Packed96) Bytes32() Hash {
	var h Hash
	copy(h[HashLength-len(p):], p[:])
	return h
}

// CheckVec3 проверяет, что все оси представимы в int32.
func CheckVec3(v vec.Vec3) error {
	for _, a := range [3]int{v.X, v.Y, v.Z} {
		if CheckCoord(a) != nil {
			return fmt.Errorf("%s: %w", v, ErrCoordOutOfRange)
		}
	}
	return nil
}

// CheckCoord проверяет, что одна координата помещается в int32
func CheckCoord(a int) error {
	if a < math.MinInt32 || a > math.MaxInt32 {
		return fmt.Errorf("%d: %w", a, ErrCoordOutOfRange)
	}
	return nil
}

// EntityID 256-битный идентификатор сущности.
type EntityID Hash

// EncodeCoord кодирует координату с указанным типом сущности:
// (type << 248) | (packVec3 << 152).
func EncodeCoord(t EntityType, v vec.Vec3) EntityID {
	var id EntityID
	id[0] = byte(t)
	p := PackPos(v)
	// packed << 152 занимает байты 1..12 (big-endian), младшие 19 байт нулевые
	copy(id[1:1+len(p)], p[:])
	return id
}

// EncodeBlock кодирует координату вокселя в EntityId типа Block.
func EncodeBlock(v vec.Vec3) EntityID {
	return EncodeCoord(EntityTypeBlock, v)
}

// Type возвращает дискриминатор сущности.
func (id EntityID) Type() EntityType {
	return EntityType(id[0])
}

// Coord восстанавливает координату. Дискриминатор проверяется до интерпретации данных.
func (id EntityID) Coord() (vec.Vec3, error) {
	if !id.Type().HasCoord() {
		return vec.Vec3{}, fmt.Errorf("%s: %w", id.Type(), ErrNotCoordEntity)
	}
	return vec.Vec3{
		X: int(int32(binary.BigEndian.Uint32(id[1:5]))),
		Y: int(int32(binary.BigEndian.Uint32(id[5:9]))),
		Z: int(int32(binary.BigEndian.Uint32(id[9:13]))),
	}, nil
}

// Big возвращает EntityId как uint256.
func (id EntityID) Big() *big.Int {
	return new(big.Int).SetBytes(id[:])
}

// Hex возвращает EntityId в виде 0x-строки (32 байта).
func (id EntityID) Hex() string {
	return Hash(id).Hex()
}

func (id EntityID) String() string {
	return id.Hex()
}
