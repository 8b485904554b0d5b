// Package ledger читает состояние мира DUST из сети через JSON-RPC:
// код контрактов (eth_getCode) и записи таблиц мира (eth_call getRecord).
// Только чтение; все вызовы идемпотентны.
package ledger

import (
	"context"
	"encoding/binary"

	"github.com/annel0/dust-map/internal/chain"
)

// Reader интерфейс доступа к данным мира только для чтения
type Reader interface {
	// GetCode возвращает runtime-код контракта; пустой срез - контракта нет
	GetCode(ctx context.Context, addr chain.Address) ([]byte, error)
	// GetRecord читает запись таблицы tableID по ключу keys из контракта мира world
	GetRecord(ctx context.Context, world chain.Address, tableID chain.Hash, keys []chain.Hash) (Record, error)
}

// Record запись таблицы мира в сыром виде
type Record struct {
	StaticData     []byte
	EncodedLengths chain.Hash
	DynamicData    []byte
}

// IsEmpty true для отсутствующей записи
func (r Record) IsEmpty() bool {
	return len(r.StaticData) == 0 && len(r.DynamicData) == 0
}

// EntityObjectTypeTableID идентификатор таблицы EntityObjectType
// ("tb" + пустое пространство имен + "EntityObjectType").
var EntityObjectTypeTableID = chain.MustParseHash("0x74620000000000000000000000000000456e746974794f626a65637454797065")

// ObjectTypeFromRecord извлекает ObjectType (uint16, первые 2 байта статических данных).
// 0 означает отсутствие записи.
func ObjectTypeFromRecord(r Record) uint16 {
	if len(r.StaticData) < 2 {
		return 0
	}
	return binary.BigEndian.Uint16(r.StaticData[:2])
}
