package ledger

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/annel0/dust-map/internal/chain"
)

type recordKey struct {
	world chain.Address
	table chain.Hash
	key   chain.Hash
}

// MemoryReader Reader в памяти для тестов и локальной отладки.
// Поддерживает только ключи из одного элемента.
type MemoryReader struct {
	mu        sync.RWMutex
	codes     map[chain.Address][]byte
	records   map[recordKey]Record
	codeErr   error
	recordErr error

	CodeCalls   atomic.Int64
	RecordCalls atomic.Int64
}

// NewMemoryReader создает пустой MemoryReader
func NewMemoryReader() *MemoryReader {
	return &MemoryReader{
		codes:   make(map[chain.Address][]byte),
		records: make(map[recordKey]Record),
	}
}

// SetCode задает код контракта по адресу
func (m *MemoryReader) SetCode(addr chain.Address, code []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[addr] = append([]byte(nil), code...)
}

// SetRecord задает запись таблицы
func (m *MemoryReader) SetRecord(world chain.Address, table chain.Hash, key chain.Hash, rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[recordKey{world, table, key}] = rec
}

// FailCode заставляет GetCode возвращать err (nil - снять отказ)
func (m *MemoryReader) FailCode(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codeErr = err
}

// FailRecord заставляет GetRecord возвращать err (nil - снять отказ)
func (m *MemoryReader) FailRecord(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordErr = err
}

func (m *MemoryReader) GetCode(ctx context.Context, addr chain.Address) ([]byte, error) {
	m.CodeCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.codeErr != nil {
		return nil, m.codeErr
	}
	return append([]byte(nil), m.codes[addr]...), nil
}

func (m *MemoryReader) GetRecord(ctx context.Context, world chain.Address, tableID chain.Hash, keys []chain.Hash) (Record, error) {
	m.RecordCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.recordErr != nil {
		return Record{}, m.recordErr
	}
	if len(keys) != 1 {
		return Record{}, nil
	}
	return m.records[recordKey{world, tableID, keys[0]}], nil
}
