package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrClosed публикация в закрытую шину
var ErrClosed = errors.New("eventbus: шина закрыта")

// Priority определяет поведение при переполненной очереди подписчика:
// события ниже PriorityHigh отбрасываются, PriorityHigh ждет места.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 5
	PriorityHigh   Priority = 8
)

// Envelope событие шины вместе с JSON полезной нагрузкой
type Envelope struct {
	ID            string          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        string          `json:"source"`
	EventType     string          `json:"event_type"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id"` // идентификатор прогона индексации
	Priority      Priority        `json:"priority"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope сериализует payload в JSON и заполняет служебные поля
func NewEnvelope(source, eventType, correlationID string, priority Priority, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("сериализация %s: %w", eventType, err)
	}
	return &Envelope{
		ID:            uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		Source:        source,
		EventType:     eventType,
		Version:       1,
		CorrelationID: correlationID,
		Priority:      priority,
		Payload:       data,
	}, nil
}

// Decode разбирает полезную нагрузку в v
func (e *Envelope) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Filter отбор событий подписчика. Пустой список пропускает все.
type Filter struct {
	Types   []string
	Sources []string
}

func (f Filter) match(ev *Envelope) bool {
	return (len(f.Types) == 0 || slices.Contains(f.Types, ev.EventType)) &&
		(len(f.Sources) == 0 || slices.Contains(f.Sources, ev.Source))
}

type Subscription interface {
	Unsubscribe()
}

// Handler вызывается последовательно для событий одной подписки
type Handler func(ctx context.Context, ev *Envelope)

// Stats счетчики шины
type Stats struct {
	Published uint64
	Consumed  uint64
	Dropped   uint64
	InFlight  int
}

// EventBus шина событий индексатора
type EventBus interface {
	Publish(ctx context.Context, ev *Envelope) error
	Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error)
	Metrics() Stats
	Close() error
}

// memoryBus шина внутри процесса. У каждой подписки своя очередь и
// горутина, поэтому порядок событий для подписчика сохраняется.
type memoryBus struct {
	queueSize int

	mu     sync.RWMutex
	subs   map[*memSub]struct{}
	closed bool

	published atomic.Uint64
	consumed  atomic.Uint64
	dropped   atomic.Uint64
}

// NewMemoryBus создает шину с очередью queueSize на подписчика
func NewMemoryBus(queueSize int) EventBus {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &memoryBus{queueSize: queueSize, subs: make(map[*memSub]struct{})}
}

func (mb *memoryBus) Publish(ctx context.Context, ev *Envelope) error {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return ErrClosed
	}

	mb.published.Add(1)
	for s := range mb.subs {
		if !s.filter.match(ev) {
			continue
		}
		if err := mb.deliver(ctx, s, ev); err != nil {
			return err
		}
	}
	return nil
}

// deliver кладет событие в очередь подписки. Переполнение теряет событие
// только для этого подписчика.
func (mb *memoryBus) deliver(ctx context.Context, s *memSub, ev *Envelope) error {
	select {
	case s.queue <- ev:
		return nil
	case <-s.ctx.Done():
		return nil
	default:
	}

	if ev.Priority < PriorityHigh {
		mb.dropped.Add(1)
		return nil
	}
	select {
	case s.queue <- ev:
		return nil
	case <-s.ctx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (mb *memoryBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return nil, ErrClosed
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &memSub{
		bus:    mb,
		filter: f,
		queue:  make(chan *Envelope, mb.queueSize),
		ctx:    sctx,
		cancel: cancel,
	}
	mb.subs[s] = struct{}{}
	go s.run(h)
	return s, nil
}

func (mb *memoryBus) Metrics() Stats {
	mb.mu.RLock()
	inFlight := 0
	for s := range mb.subs {
		inFlight += len(s.queue)
	}
	mb.mu.RUnlock()

	return Stats{
		Published: mb.published.Load(),
		Consumed:  mb.consumed.Load(),
		Dropped:   mb.dropped.Load(),
		InFlight:  inFlight,
	}
}

// Close отменяет все подписки; недоставленные события теряются
func (mb *memoryBus) Close() error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return nil
	}
	mb.closed = true
	for s := range mb.subs {
		s.cancel()
	}
	clear(mb.subs)
	return nil
}

type memSub struct {
	bus    *memoryBus
	filter Filter
	queue  chan *Envelope
	ctx    context.Context
	cancel context.CancelFunc
}

func (s *memSub) run(h Handler) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.queue:
			h(s.ctx, ev)
			s.bus.consumed.Add(1)
		}
	}
}

func (s *memSub) Unsubscribe() {
	s.cancel()
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
}
