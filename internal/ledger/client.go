package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/annel0/dust-map/internal/chain"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gorilla/websocket"
)

var (
	// ErrNoEndpoints не задан ни один адрес узла
	ErrNoEndpoints = errors.New("no ledger endpoints configured")
	// ErrClientClosed клиент закрыт
	ErrClientClosed = errors.New("ledger client closed")
)

// CallObserver получает длительность и результат каждого RPC вызова (метрики)
type CallObserver func(method string, took time.Duration, err error)

// Client реализует Reader поверх ethclient. Узлы перебираются по порядку:
// ошибка соединения переводит вызов на следующий узел, ответ узла с ошибкой
// (revert, неверные параметры) возвращается сразу.
type Client struct {
	endpoints []*endpoint
	timeout   time.Duration
	block     *big.Int
	observer  CallObserver

	mu     sync.Mutex
	closed bool
}

// ClientOption настраивает Client
type ClientOption func(*Client)

// WithBlockNumber фиксирует блок для чтения состояния (nil - последний)
func WithBlockNumber(n *big.Int) ClientOption {
	return func(c *Client) { c.block = n }
}

// WithCallObserver подключает наблюдателя вызовов
func WithCallObserver(o CallObserver) ClientOption {
	return func(c *Client) { c.observer = o }
}

// NewClient создает клиента для списка адресов узлов (http(s):// или ws(s)://).
// Соединения устанавливаются при первом вызове.
func NewClient(urls []string, timeout time.Duration, opts ...ClientOption) (*Client, error) {
	c := &Client{timeout: timeout}
	for _, u := range urls {
		if u != "" {
			c.endpoints = append(c.endpoints, &endpoint{url: u, timeout: timeout})
		}
	}
	if len(c.endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewClientFromURLs собирает клиента: при заданном wsURL сначала WebSocket, затем HTTP.
func NewClientFromURLs(httpURL, wsURL string, timeout time.Duration, opts ...ClientOption) (*Client, error) {
	return NewClient([]string{wsURL, httpURL}, timeout, opts...)
}

// endpoint один узел с отложенным подключением
type endpoint struct {
	url     string
	timeout time.Duration

	mu     sync.Mutex
	client *ethclient.Client
}

func (e *endpoint) get(ctx context.Context) (*ethclient.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return e.client, nil
	}
	rc, err := rpc.DialOptions(ctx, e.url,
		rpc.WithHTTPClient(&http.Client{Timeout: e.timeout}),
		rpc.WithWebsocketDialer(websocket.Dialer{HandshakeTimeout: e.timeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", e.url, err)
	}
	e.client = ethclient.NewClient(rc)
	return e.client, nil
}

// reset закрывает соединение после сетевой ошибки; следующий вызов переподключится
func (e *endpoint) reset(broken *ethclient.Client) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == broken && broken != nil {
		e.client.Close()
		e.client = nil
	}
}

func (e *endpoint) close() {
	e.reset(e.current())
}

func (e *endpoint) current() *ethclient.Client {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client
}

// isNodeError true, если узел получил запрос и ответил ошибкой
func isNodeError(err error) bool {
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr)
}

func (c *Client) do(ctx context.Context, method string, fn func(ctx context.Context, ec *ethclient.Client) error) (err error) {
	start := time.Now()
	defer func() {
		if c.observer != nil {
			c.observer(method, time.Since(start), err)
		}
	}()

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClientClosed
	}

	var errs []error
	for _, ep := range c.endpoints {
		callErr := c.try(ctx, ep, fn)
		if callErr == nil {
			return nil
		}
		if ctx.Err() != nil || isNodeError(callErr) {
			return callErr
		}
		errs = append(errs, fmt.Errorf("%s: %w", ep.url, callErr))
	}
	return errors.Join(errs...)
}

func (c *Client) try(ctx context.Context, ep *endpoint, fn func(ctx context.Context, ec *ethclient.Client) error) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	ec, err := ep.get(ctx)
	if err != nil {
		return err
	}
	if err := fn(ctx, ec); err != nil {
		if !isNodeError(err) {
			ep.reset(ec)
		}
		return err
	}
	return nil
}

// GetCode реализует Reader
func (c *Client) GetCode(ctx context.Context, addr chain.Address) ([]byte, error) {
	var code []byte
	err := c.do(ctx, "eth_getCode", func(ctx context.Context, ec *ethclient.Client) (err error) {
		code, err = ec.CodeAt(ctx, addr, c.block)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("getCode %s: %w", addr.Hex(), err)
	}
	return code, nil
}

// GetRecord реализует Reader через eth_call getRecord(bytes32,bytes32[])
func (c *Client) GetRecord(ctx context.Context, world chain.Address, tableID chain.Hash, keys []chain.Hash) (Record, error) {
	data, err := encodeGetRecord(tableID, keys)
	if err != nil {
		return Record{}, err
	}
	msg := ethereum.CallMsg{To: &world, Data: data}

	var out []byte
	err = c.do(ctx, "eth_call", func(ctx context.Context, ec *ethclient.Client) (err error) {
		out, err = ec.CallContract(ctx, msg, c.block)
		return err
	})
	if err != nil {
		return Record{}, fmt.Errorf("getRecord %s: %w", tableID.Hex(), err)
	}
	return decodeGetRecord(out)
}

// BlockNumber возвращает номер последнего блока (проверка связи с узлом)
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := c.do(ctx, "eth_blockNumber", func(ctx context.Context, ec *ethclient.Client) (err error) {
		n, err = ec.BlockNumber(ctx)
		return err
	})
	return n, err
}

// Close закрывает соединения со всеми узлами
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	for _, ep := range c.endpoints {
		ep.close()
	}
	return nil
}
