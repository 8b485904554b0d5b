package chain

import (
	"math"
	"math/big"
	"testing"

	"github.com/annel0/dust-map/internal/vec"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackVec3(t *testing.T) {
	t.Run("Zero", func(t *testing.T) {
		assert.Equal(t, 0, PackVec3(0, 0, 0).Big().Sign())
	})

	t.Run("Two's complement", func(t *testing.T) {
		want := new(big.Int).Lsh(big.NewInt(0xFFFFFFFF), 64)
		got := PackVec3(-1, 0, 0).Big()
		assert.Equal(t, 0, want.Cmp(got), "ожидалось %s, получено %s", want, got)

		// -1 и 0xFFFFFFFF, интерпретированное как uint32, дают одно значение
		u := uint32(math.MaxUint32)
		assert.Equal(t, PackVec3(int32(u), 0, 0), PackVec3(-1, 0, 0))
	})

	t.Run("Axis order", func(t *testing.T) {
		p := PackVec3(1, 2, 3)
		want := new(big.Int).Lsh(big.NewInt(1), 64)
		want.Or(want, new(big.Int).Lsh(big.NewInt(2), 32))
		want.Or(want, big.NewInt(3))
		assert.Equal(t, 0, want.Cmp(p.Big()))
	})

	t.Run("Bytes32 padding", func(t *testing.T) {
		h := PackVec3(1, 2, 3).Bytes32()
		assert.Equal(t, make([]byte, 20), h[:20])
		assert.Equal(t, byte(3), h[31])
		assert.Equal(t, byte(1), h[23])
	})
}

func TestCheckVec3(t *testing.T) {
	assert.NoError(t, CheckVec3(vec.Vec3{X: math.MinInt32, Y: 0, Z: math.MaxInt32}))
	assert.ErrorIs(t, CheckVec3(vec.Vec3{X: math.MaxInt32 + 1}), ErrCoordOutOfRange)
	assert.ErrorIs(t, CheckVec3(vec.Vec3{Z: math.MinInt32 - 1}), ErrCoordOutOfRange)
}

func TestEncodeBlock(t *testing.T) {
	pos := vec.Vec3{X: -1, Y: 64, Z: 7}
	id := EncodeBlock(pos)

	assert.Equal(t, EntityTypeBlock, id.Type())

	// (3 << 248) | (packed << 152)
	want := new(big.Int).Lsh(big.NewInt(3), entityIDBits)
	want.Or(want, new(big.Int).Lsh(PackPos(pos).Big(), packedShift))
	assert.Equal(t, 0, want.Cmp(id.Big()), "EntityId = %s", id.Hex())

	got, err := id.Coord()
	require.NoError(t, err)
	assert.Equal(t, pos, got)
}

func TestEntityID_CoordRequiresDiscriminator(t *testing.T) {
	id := EncodeCoord(EntityTypePlayer, vec.Vec3{X: 1, Y: 2, Z: 3})
	_, err := id.Coord()
	assert.ErrorIs(t, err, ErrNotCoordEntity)

	frag := EncodeCoord(EntityTypeFragment, vec.Vec3{X: -4, Y: 0, Z: 9})
	got, err := frag.Coord()
	require.NoError(t, err)
	assert.Equal(t, vec.Vec3{X: -4, Y: 0, Z: 9}, got)
}

func TestChunkPointer_Derivation(t *testing.T) {
	// EIP-1014, пример 2: CREATE2 от 0xdeadbeef с нулевой солью и init-кодом 0x00
	deployer := MustParseAddress("0xdeadbeef00000000000000000000000000000000")
	got := crypto.CreateAddress2(deployer, Hash{}, crypto.Keccak256([]byte{0x00}))
	assert.Equal(t, MustParseAddress("0xb928f69bb1d91cd65274e3c79d8986362984fda3"), got)

	// CREATE с nonce 1
	sender := MustParseAddress("0x6ac7ea33f8831ea9dcc53393aaa88b25a785dbf0")
	assert.Equal(t, MustParseAddress("0x343c43a37d37dff08ae8c4a11544c718abb4fcf8"), crypto.CreateAddress(sender, 1))
}

func TestChunkPointer(t *testing.T) {
	world := MustParseAddress("0x253eb85b3c953bfe3827cc14a151262482e7189c")
	chunk := vec.Vec3{X: 32, Y: 4, Z: -64}

	salt := PackPos(chunk).Bytes32()
	proxy := crypto.CreateAddress2(world, salt, Create3ProxyInitCodeHash.Bytes())
	want := crypto.CreateAddress(proxy, 1)

	assert.Equal(t, want, ChunkPointer(chunk, world))
	assert.Equal(t, ChunkPointer(chunk, world), ChunkPointer(chunk, world))
	assert.NotEqual(t, ChunkPointer(chunk, world), ChunkPointer(vec.Vec3{X: 32, Y: 4, Z: -63}, world))
	assert.NotEqual(t, ChunkPointer(chunk, world), ChunkPointer(chunk, Address{}))
}

func TestParseAddress(t *testing.T) {
	_, err := ParseAddress("0x1234")
	assert.ErrorIs(t, err, ErrInvalidHex)

	_, err = ParseAddress("0xzz00000000000000000000000000000000000000")
	assert.ErrorIs(t, err, ErrInvalidHex)

	a, err := ParseAddress("0xDEADBEEF00000000000000000000000000000000")
	require.NoError(t, err)
	assert.Equal(t, MustParseAddress("0xdeadbeef00000000000000000000000000000000"), a, "регистр не важен")

	text, err := a.MarshalText()
	require.NoError(t, err)
	var back Address
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, a, back)
}

func TestParseHash(t *testing.T) {
	_, err := ParseHash("0x12")
	assert.ErrorIs(t, err, ErrInvalidHex)
	_, err = ParseHash("1234")
	assert.ErrorIs(t, err, ErrInvalidHex, "без префикса 0x")

	h := MustParseHash("0x21c35dbe1b344a2488cf3321d6ce542f8e9f305544ff09e4993a62319a497c1f")
	assert.Equal(t, "0x21c35dbe1b344a2488cf3321d6ce542f8e9f305544ff09e4993a62319a497c1f", h.Hex())
}
