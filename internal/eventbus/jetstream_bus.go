package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/annel0/dust-map/internal/logging"
	nats "github.com/nats-io/nats.go"
)

// DefaultStream имя стрима JetStream по умолчанию
const DefaultStream = "DUST_MAP"

// JetStreamBus EventBus поверх NATS JetStream. События лежат в subject
// <stream в нижнем регистре>.<EventType> и хранятся retention.
type JetStreamBus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	prefix string
	log    *logging.Logger

	published atomic.Uint64
	consumed  atomic.Uint64
	dropped   atomic.Uint64
}

// NewJetStreamBus подключается к NATS и создает стрим, если его нет
func NewJetStreamBus(url, stream string, retention time.Duration) (*JetStreamBus, error) {
	if stream == "" {
		stream = DefaultStream
	}
	prefix := strings.ToLower(stream)
	log := logging.GetComponentLogger("eventbus")

	nc, err := nats.Connect(url, nats.Name("dust-map-eventbus"))
	if err != nil {
		return nil, fmt.Errorf("nats %s: %w", url, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	if _, err := js.StreamInfo(stream); err != nil {
		// Duplicates совпадает с окном повторной публикации одного Envelope.ID
		_, err = js.AddStream(&nats.StreamConfig{
			Name:       stream,
			Subjects:   []string{prefix + ".*"},
			Retention:  nats.LimitsPolicy,
			MaxAge:     retention,
			Storage:    nats.FileStorage,
			Duplicates: time.Minute,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("стрим %s: %w", stream, err)
		}
		log.Info("Создан стрим %s (%s.*), хранение %s", stream, prefix, retention)
	}

	log.Info("JetStream %s подключен: %s", stream, url)
	return &JetStreamBus{nc: nc, js: js, prefix: prefix, log: log}, nil
}

// Publish публикует Envelope; ID служит ключом дедупликации стрима
func (jb *JetStreamBus) Publish(ctx context.Context, ev *Envelope) error {
	data, err := json.Marshal(ev)
	if err == nil {
		_, err = jb.js.Publish(jb.prefix+"."+ev.EventType, data, nats.Context(ctx), nats.MsgId(ev.ID))
	}
	if err != nil {
		jb.dropped.Add(1)
		return fmt.Errorf("публикация %s: %w", ev.EventType, err)
	}
	jb.published.Add(1)
	return nil
}

// Subscribe создает эфемерный consumer, получающий только новые события.
// Один тип в фильтре сужает subject на стороне сервера.
func (jb *JetStreamBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	subject := jb.prefix + ".*"
	if len(f.Types) == 1 {
		subject = jb.prefix + "." + f.Types[0]
	}

	sub, err := jb.js.Subscribe(subject, func(msg *nats.Msg) {
		defer func() { _ = msg.Ack() }()

		var ev Envelope
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			jb.dropped.Add(1)
			jb.log.Warn("Битое событие в %s: %v", msg.Subject, err)
			return
		}
		if f.match(&ev) {
			h(ctx, &ev)
			jb.consumed.Add(1)
		}
	}, nats.ManualAck(), nats.DeliverNew(), nats.AckWait(30*time.Second))
	if err != nil {
		return nil, fmt.Errorf("подписка %s: %w", subject, err)
	}
	return natsSub{sub}, nil
}

type natsSub struct{ *nats.Subscription }

func (s natsSub) Unsubscribe() { _ = s.Subscription.Unsubscribe() }

func (jb *JetStreamBus) Metrics() Stats {
	return Stats{
		Published: jb.published.Load(),
		Consumed:  jb.consumed.Load(),
		Dropped:   jb.dropped.Load(),
	}
}

// Close дожидается доставки и закрывает соединение
func (jb *JetStreamBus) Close() error {
	return jb.nc.Drain()
}
