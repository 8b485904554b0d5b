package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/dust-map/internal/logging"
	"github.com/nats-io/nats.go"
)

// NATSInvalidator реализует CacheInvalidator поверх NATS Pub/Sub.
// Рассылает ключи блоков, чьи записи переопределения изменились,
// чтобы остальные экземпляры сбросили их из кеша декодирования.
type NATSInvalidator struct {
	conn    *nats.Conn
	subject string
	nodeID  string
	log     *logging.Logger

	mu   sync.Mutex
	sub  *nats.Subscription
	seen *recentKeys

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	published atomic.Int64
	received  atomic.Int64
	failed    atomic.Int64
}

// InvalidatorConfig параметры подключения к NATS
type InvalidatorConfig struct {
	NATSURL string
	Subject string

	MaxReconnects int
	ReconnectWait time.Duration

	// DedupeWindow окно подавления повторов одного ключа при приеме
	DedupeWindow time.Duration
}

// invalidationMessage сообщение в subject инвалидации
type invalidationMessage struct {
	Key    string    `json:"key"`
	NodeID string    `json:"node_id"`
	SentAt time.Time `json:"sent_at"`
}

// InvalidatorStats счетчики NATSInvalidator
type InvalidatorStats struct {
	Published int64 `json:"published"`
	Received  int64 `json:"received"`
	Failed    int64 `json:"failed"`
	Connected bool  `json:"connected"`
}

// NewNATSInvalidator подключается к NATS.
//
// Параметры:
//
//	cfg - адрес NATS и subject; пустой subject - dust.cache.invalidate
//	nodeID - идентификатор экземпляра, свои сообщения при приеме пропускаются
func NewNATSInvalidator(cfg *InvalidatorConfig, nodeID string) (*NATSInvalidator, error) {
	subject := cfg.Subject
	if subject == "" {
		subject = "dust.cache.invalidate"
	}
	maxReconnects, reconnectWait, window := cfg.MaxReconnects, cfg.ReconnectWait, cfg.DedupeWindow
	if maxReconnects == 0 {
		maxReconnects = 10
	}
	if reconnectWait == 0 {
		reconnectWait = 2 * time.Second
	}
	if window == 0 {
		window = 500 * time.Millisecond
	}

	log := logging.GetComponentLogger("cache")
	conn, err := nats.Connect(cfg.NATSURL,
		nats.Name("dust-map-invalidator-"+nodeID),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS отключен: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS переподключен к %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats %s: %w", cfg.NATSURL, err)
	}

	log.Info("Инвалидация кеша через NATS %s, subject %s", cfg.NATSURL, subject)
	return &NATSInvalidator{
		conn:    conn,
		subject: subject,
		nodeID:  nodeID,
		log:     log,
		seen:    newRecentKeys(window),
		stopCh:  make(chan struct{}),
	}, nil
}

// PublishInvalidation отправляет ключ остальным экземплярам
func (n *NATSInvalidator) PublishInvalidation(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(invalidationMessage{Key: key, NodeID: n.nodeID, SentAt: time.Now()})
	if err != nil {
		n.failed.Add(1)
		return fmt.Errorf("кодирование %s: %w", key, err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		n.failed.Add(1)
		return fmt.Errorf("публикация %s: %w", key, err)
	}
	n.published.Add(1)
	n.log.Debug("Отправлена инвалидация %s", key)
	return nil
}

// SubscribeInvalidations подписывается на чужие ключи. Подписка снимается
// при отмене ctx или Close. Повторная подписка - ошибка.
func (n *NATSInvalidator) SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.sub != nil {
		return errors.New("cache: уже подписан на инвалидации")
	}
	sub, err := n.conn.Subscribe(n.subject, func(msg *nats.Msg) {
		n.receive(msg.Data, handler)
	})
	if err != nil {
		return fmt.Errorf("подписка на %s: %w", n.subject, err)
	}
	n.sub = sub

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		select {
		case <-ctx.Done():
		case <-n.stopCh:
		}
		n.unsubscribe()
	}()
	return nil
}

// receive разбирает сообщение; свои и повторные ключи пропускаются
func (n *NATSInvalidator) receive(data []byte, handler InvalidationHandler) {
	n.received.Add(1)

	var msg invalidationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		n.failed.Add(1)
		n.log.Warn("Битое сообщение инвалидации: %v", err)
		return
	}
	if msg.NodeID == n.nodeID {
		return
	}
	if !n.seen.first(msg.Key, time.Now()) {
		return
	}
	if err := handler(msg.Key); err != nil {
		n.failed.Add(1)
		n.log.Warn("Инвалидация %s от %s: %v", msg.Key, msg.NodeID, err)
	}
}

func (n *NATSInvalidator) unsubscribe() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sub == nil {
		return
	}
	if err := n.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		n.log.Warn("Отписка от %s: %v", n.subject, err)
	}
	n.sub = nil
}

func (n *NATSInvalidator) Stats() InvalidatorStats {
	return InvalidatorStats{
		Published: n.published.Load(),
		Received:  n.received.Load(),
		Failed:    n.failed.Load(),
		Connected: n.conn.IsConnected(),
	}
}

// Close снимает подписку и закрывает соединение
func (n *NATSInvalidator) Close() error {
	n.closeOnce.Do(func() {
		close(n.stopCh)
		n.wg.Wait()
		n.conn.Close()
	})
	return nil
}

// recentKeys подавляет повтор ключа внутри окна. Старые записи
// вычищаются при вставке, не чаще раза в окно.
type recentKeys struct {
	mu        sync.Mutex
	window    time.Duration
	keys      map[string]time.Time
	lastPrune time.Time
}

func newRecentKeys(window time.Duration) *recentKeys {
	return &recentKeys{window: window, keys: make(map[string]time.Time)}
}

// first true, если key не встречался последние window
func (r *recentKeys) first(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if now.Sub(r.lastPrune) > r.window {
		for k, at := range r.keys {
			if now.Sub(at) > r.window {
				delete(r.keys, k)
			}
		}
		r.lastPrune = now
	}

	if at, ok := r.keys[key]; ok && now.Sub(at) < r.window {
		return false
	}
	r.keys[key] = now
	return true
}
