package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/annel0/dust-map/internal/chain"
	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ErrABIDecode ответ eth_call не соответствует ожидаемой ABI-разметке
var ErrABIDecode = errors.New("abi decode error")

// worldJSON фрагмент ABI контракта мира, нужный для чтения таблиц
const worldJSON = `[{
	"type": "function",
	"name": "getRecord",
	"stateMutability": "view",
	"inputs": [
		{"name": "tableId", "type": "bytes32"},
		{"name": "keyTuple", "type": "bytes32[]"}
	],
	"outputs": [
		{"name": "staticData", "type": "bytes"},
		{"name": "encodedLengths", "type": "bytes32"},
		{"name": "dynamicData", "type": "bytes"}
	]
}]`

var worldABI = mustParseABI(worldJSON)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// encodeGetRecord кодирует calldata getRecord(bytes32 tableId, bytes32[] keyTuple)
func encodeGetRecord(tableID chain.Hash, keys []chain.Hash) ([]byte, error) {
	tuple := make([][32]byte, len(keys))
	for i, k := range keys {
		tuple[i] = k
	}
	data, err := worldABI.Pack("getRecord", [32]byte(tableID), tuple)
	if err != nil {
		return nil, fmt.Errorf("pack getRecord: %w", err)
	}
	return data, nil
}

// decodeGetRecord разбирает возврат (bytes staticData, bytes32 encodedLengths, bytes dynamicData)
func decodeGetRecord(data []byte) (Record, error) {
	var rec Record
	if len(data) == 0 {
		// пустой ответ узла трактуется как отсутствие записи
		return rec, nil
	}
	values, err := worldABI.Unpack("getRecord", data)
	if err != nil {
		return rec, fmt.Errorf("getRecord result (%d bytes): %v: %w", len(data), err, ErrABIDecode)
	}
	if len(values) != 3 {
		return rec, fmt.Errorf("getRecord result: %d values: %w", len(values), ErrABIDecode)
	}

	var ok bool
	if rec.StaticData, ok = values[0].([]byte); !ok {
		return rec, fmt.Errorf("staticData has type %T: %w", values[0], ErrABIDecode)
	}
	lengths, ok := values[1].([32]byte)
	if !ok {
		return rec, fmt.Errorf("encodedLengths has type %T: %w", values[1], ErrABIDecode)
	}
	rec.EncodedLengths = lengths
	if rec.DynamicData, ok = values[2].([]byte); !ok {
		return rec, fmt.Errorf("dynamicData has type %T: %w", values[2], ErrABIDecode)
	}
	return rec, nil
}
