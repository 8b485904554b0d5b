package ledger

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/annel0/dust-map/internal/chain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testWorld = chain.MustParseAddress("0x253eb85b3c953bfe3827cc14a151262482e7189c")
	testCode  = []byte{0x00, 0x01, 0x07, 0x00}
)

// fakeEth пространство имен eth тестового узла с одной записью EntityObjectType
type fakeEth struct {
	record Record
	revert atomic.Bool
	calls  atomic.Int64
}

type fakeCallArgs struct {
	To    *common.Address `json:"to"`
	Input hexutil.Bytes   `json:"input"`
	Data  hexutil.Bytes   `json:"data"`
}

type revertError struct{}

func (revertError) Error() string  { return "execution reverted" }
func (revertError) ErrorCode() int { return 3 }

func (n *fakeEth) GetCode(addr common.Address, block string) (hexutil.Bytes, error) {
	n.calls.Add(1)
	if addr != testWorld {
		return hexutil.Bytes{}, nil
	}
	return testCode, nil
}

func (n *fakeEth) BlockNumber() (hexutil.Uint64, error) {
	n.calls.Add(1)
	return 0x1a2b, nil
}

func (n *fakeEth) Call(args fakeCallArgs, block string) (hexutil.Bytes, error) {
	n.calls.Add(1)
	data := args.Input
	if len(data) == 0 {
		data = args.Data
	}
	sel := worldABI.Methods["getRecord"].ID
	if n.revert.Load() || len(data) < 4 || string(data[:4]) != string(sel) {
		return nil, revertError{}
	}
	return encodeGetRecordResult(n.record), nil
}

// startNode поднимает JSON-RPC узел; возвращает http и ws адреса
func startNode(t *testing.T, eth *fakeEth) (string, string) {
	t.Helper()
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("eth", eth))
	httpSrv := httptest.NewServer(srv)
	wsSrv := httptest.NewServer(srv.WebsocketHandler([]string{"*"}))
	t.Cleanup(func() {
		wsSrv.Close()
		httpSrv.Close()
		srv.Stop()
	})
	return httpSrv.URL, "ws" + strings.TrimPrefix(wsSrv.URL, "http")
}

// encodeGetRecordResult кодирует ответ getRecord так, как его вернул бы контракт мира
func encodeGetRecordResult(rec Record) []byte {
	out, err := worldABI.Methods["getRecord"].Outputs.Pack(rec.StaticData, [32]byte(rec.EncodedLengths), rec.DynamicData)
	if err != nil {
		panic(err)
	}
	return out
}

func sampleRecord() Record {
	var lengths chain.Hash
	lengths[31] = 0x05
	return Record{
		StaticData:     []byte{0x00, 0x6f},
		EncodedLengths: lengths,
		DynamicData:    []byte("hello, dust world! more than one word of dynamic data"),
	}
}

func TestEncodeGetRecord(t *testing.T) {
	const word = 32
	table := EntityObjectTypeTableID
	key := chain.Hash(chain.EncodeBlock(vecOf(1, 2, 3)))

	data, err := encodeGetRecord(table, []chain.Hash{key})
	require.NoError(t, err)
	// селектор, tableId, смещение массива, длина массива, один ключ
	require.Len(t, data, 4+4*word)
	assert.Equal(t, worldABI.Methods["getRecord"].ID, data[:4])
	assert.Equal(t, table[:], data[4:36])
	assert.Equal(t, byte(0x40), data[36+31], "смещение массива ключей")
	assert.Equal(t, byte(0x01), data[68+31], "длина массива ключей")
	assert.Equal(t, key[:], data[100:132])

	data, err = encodeGetRecord(table, []chain.Hash{key, {}})
	require.NoError(t, err)
	assert.Len(t, data, 4+5*word)
}

func TestDecodeGetRecord(t *testing.T) {
	t.Run("Round trip", func(t *testing.T) {
		rec := sampleRecord()
		got, err := decodeGetRecord(encodeGetRecordResult(rec))
		require.NoError(t, err)
		assert.Equal(t, rec, got)
		assert.Equal(t, uint16(111), ObjectTypeFromRecord(got))
	})

	t.Run("Empty record", func(t *testing.T) {
		got, err := decodeGetRecord(encodeGetRecordResult(Record{StaticData: []byte{}, DynamicData: []byte{}}))
		require.NoError(t, err)
		assert.True(t, got.IsEmpty())
		assert.Equal(t, uint16(0), ObjectTypeFromRecord(got))

		got, err = decodeGetRecord(nil)
		require.NoError(t, err)
		assert.True(t, got.IsEmpty())
	})

	t.Run("Truncated", func(t *testing.T) {
		enc := encodeGetRecordResult(sampleRecord())
		_, err := decodeGetRecord(enc[:70])
		assert.ErrorIs(t, err, ErrABIDecode)
		_, err = decodeGetRecord(enc[:len(enc)-64])
		assert.ErrorIs(t, err, ErrABIDecode)
	})
}

func TestHTTPClient(t *testing.T) {
	eth := &fakeEth{record: sampleRecord()}
	httpURL, _ := startNode(t, eth)

	var observed atomic.Int64
	client, err := NewClientFromURLs(httpURL, "", 5*time.Second,
		WithCallObserver(func(method string, took time.Duration, err error) { observed.Add(1) }))
	require.NoError(t, err)
	defer client.Close()
	ctx := context.Background()

	code, err := client.GetCode(ctx, testWorld)
	require.NoError(t, err)
	assert.Equal(t, testCode, code)

	code, err = client.GetCode(ctx, chain.Address{})
	require.NoError(t, err)
	assert.Empty(t, code, "нет контракта")

	rec, err := client.GetRecord(ctx, testWorld, EntityObjectTypeTableID, []chain.Hash{{}})
	require.NoError(t, err)
	assert.Equal(t, uint16(111), ObjectTypeFromRecord(rec))

	n, err := client.BlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1a2b), n)
	assert.Equal(t, int64(4), observed.Load())

	eth.revert.Store(true)
	_, err = client.GetRecord(ctx, testWorld, EntityObjectTypeTableID, []chain.Hash{{}})
	var rpcErr rpc.Error
	require.True(t, errors.As(err, &rpcErr), "ожидалась ошибка узла, получено %v", err)
	assert.Equal(t, 3, rpcErr.ErrorCode())
}

func TestWSClient(t *testing.T) {
	eth := &fakeEth{record: sampleRecord()}
	_, wsURL := startNode(t, eth)

	client, err := NewClientFromURLs("", wsURL, time.Second)
	require.NoError(t, err)
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Параллельные запросы по одному соединению
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() {
			code, err := client.GetCode(ctx, testWorld)
			if err == nil && string(code) != string(testCode) {
				err = errors.New("неверный код")
			}
			errs <- err
		}()
	}
	for i := 0; i < 10; i++ {
		assert.NoError(t, <-errs)
	}

	rec, err := client.GetRecord(ctx, testWorld, EntityObjectTypeTableID, []chain.Hash{{}})
	require.NoError(t, err)
	assert.Equal(t, sampleRecord(), rec)
}

func TestClient_Fallback(t *testing.T) {
	ctx := context.Background()

	t.Run("Falls through on transport error", func(t *testing.T) {
		var limited atomic.Int64
		busy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limited.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer busy.Close()

		eth := &fakeEth{record: sampleRecord()}
		httpURL, _ := startNode(t, eth)

		client, err := NewClient([]string{busy.URL, httpURL}, time.Second)
		require.NoError(t, err)
		defer client.Close()

		n, err := client.BlockNumber(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(0x1a2b), n)
		assert.Equal(t, int64(1), limited.Load())
		assert.Equal(t, int64(1), eth.calls.Load())
	})

	t.Run("Stops on node error", func(t *testing.T) {
		first := &fakeEth{}
		first.revert.Store(true)
		second := &fakeEth{record: sampleRecord()}
		firstURL, _ := startNode(t, first)
		secondURL, _ := startNode(t, second)

		client, err := NewClient([]string{firstURL, secondURL}, time.Second)
		require.NoError(t, err)
		defer client.Close()

		_, err = client.GetRecord(ctx, testWorld, EntityObjectTypeTableID, []chain.Hash{{}})
		require.Error(t, err)
		assert.Equal(t, int64(1), first.calls.Load())
		assert.Equal(t, int64(0), second.calls.Load())
	})

	t.Run("All failed", func(t *testing.T) {
		client, err := NewClient([]string{"http://127.0.0.1:1", "ws://127.0.0.1:1"}, time.Second)
		require.NoError(t, err)
		defer client.Close()

		_, err = client.GetCode(ctx, testWorld)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "http://127.0.0.1:1")
		assert.Contains(t, err.Error(), "ws://127.0.0.1:1")
	})

	t.Run("No endpoints", func(t *testing.T) {
		_, err := NewClientFromURLs("", "", time.Second)
		assert.ErrorIs(t, err, ErrNoEndpoints)
	})

	t.Run("Closed", func(t *testing.T) {
		httpURL, _ := startNode(t, &fakeEth{})
		client, err := NewClientFromURLs(httpURL, "", time.Second)
		require.NoError(t, err)
		require.NoError(t, client.Close())
		_, err = client.BlockNumber(ctx)
		assert.ErrorIs(t, err, ErrClientClosed)
	})
}

func TestMemoryReader(t *testing.T) {
	m := NewMemoryReader()
	ctx := context.Background()
	key := chain.Hash{1}

	m.SetCode(testWorld, testCode)
	m.SetRecord(testWorld, EntityObjectTypeTableID, key, sampleRecord())

	code, err := m.GetCode(ctx, testWorld)
	require.NoError(t, err)
	assert.Equal(t, testCode, code)

	rec, err := m.GetRecord(ctx, testWorld, EntityObjectTypeTableID, []chain.Hash{key})
	require.NoError(t, err)
	assert.Equal(t, uint16(111), ObjectTypeFromRecord(rec))

	boom := errors.New("rpc down")
	m.FailRecord(boom)
	_, err = m.GetRecord(ctx, testWorld, EntityObjectTypeTableID, []chain.Hash{key})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(2), m.RecordCalls.Load())
}
