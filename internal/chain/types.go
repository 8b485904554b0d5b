// Package chain содержит чистые функции кодирования данных мира DUST:
// упаковку координат, идентификаторы сущностей и детерминированный расчет
// адресов хранилища чанков. Пакет не выполняет сетевых вызовов.
package chain

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	AddressLength = common.AddressLength
	HashLength    = common.HashLength
)

// Address адрес контракта в сети
type Address = common.Address

// Hash 32-байтовое слово (keccak256, bytes32, ключ таблицы)
type Hash = common.Hash

// ErrInvalidHex некорректная hex-строка адреса или слова
var ErrInvalidHex = errors.New("invalid hex string")

// ParseAddress разбирает адрес из 40 hex-символов (префикс 0x необязателен)
func ParseAddress(s string) (Address, error) {
	if !common.IsHexAddress(s) {
		return Address{}, fmt.Errorf("address %q: %w", s, ErrInvalidHex)
	}
	return common.HexToAddress(s), nil
}

// MustParseAddress как ParseAddress, но паникует при ошибке. Для констант и тестов.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// ParseHash разбирает 0x-строку из 64 hex-символов
func ParseHash(s string) (Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return Hash{}, fmt.Errorf("hash %q: %v: %w", s, err, ErrInvalidHex)
	}
	if len(b) != HashLength {
		return Hash{}, fmt.Errorf("hash %q: expected %d bytes, got %d: %w", s, HashLength, len(b), ErrInvalidHex)
	}
	return common.BytesToHash(b), nil
}

// MustParseHash как ParseHash, но паникует при ошибке
func MustParseHash(s string) Hash {
	h, err := ParseHash(s)
	if err != nil {
		panic(err)
	}
	return h
}
