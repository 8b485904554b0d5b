package chain

import (
	"github.com/annel0/dust-map/internal/vec"
	"github.com/ethereum/go-ethereum/crypto"
)

// Create3ProxyInitCodeHash keccak256 init-кода прокси CREATE3 (solady / SSTORE2)
var Create3ProxyInitCodeHash = MustParseHash("0x21c35dbe1b344a2488cf3321d6ce542f8e9f305544ff09e4993a62319a497c1f")

// ChunkPointer возвращает адрес SSTORE2-контракта с данными чанка.
// Прокси разворачивается миром через CREATE2 с солью = упакованной координатой
// чанка; данные лежат в первом контракте прокси (CREATE, nonce 1).
func ChunkPointer(chunk vec.Vec3, world Address) Address {
	salt := PackPos(chunk).Bytes32()
	proxy := crypto.CreateAddress2(world, salt, Create3ProxyInitCodeHash.Bytes())
	return crypto.CreateAddress(proxy, 1)
}
