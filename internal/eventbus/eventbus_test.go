package eventbus

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/annel0/dust-map/internal/config"
	"github.com/annel0/dust-map/internal/vec"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector собирает доставленные события
type collector struct {
	mu     sync.Mutex
	events []*Envelope
}

func (c *collector) handle(_ context.Context, ev *Envelope) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *collector) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.EventType)
	}
	return out
}

func mustEnvelope(t *testing.T, eventType string, payload interface{}) *Envelope {
	t.Helper()
	ev, err := NewEnvelope(SourceIndexer, eventType, "run-1", PriorityNormal, payload)
	require.NoError(t, err)
	return ev
}

func TestNewEnvelope(t *testing.T) {
	p := IndexingProgressEvent{
		RunID:           "run-1",
		TotalBlocks:     100,
		IndexedBlocks:   50,
		CurrentPosition: vec.Vec3{X: -1, Y: 64, Z: 3},
	}
	ev := mustEnvelope(t, TypeIndexingProgress, p)

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, 1, ev.Version)
	assert.Equal(t, "run-1", ev.CorrelationID)

	var back IndexingProgressEvent
	require.NoError(t, ev.Decode(&back))
	assert.Equal(t, p.CurrentPosition, back.CurrentPosition)
	assert.Equal(t, 50, back.IndexedBlocks)

	other := mustEnvelope(t, TypeIndexingProgress, p)
	assert.NotEqual(t, ev.ID, other.ID, "идентификаторы уникальны")
}

func TestMemoryBus(t *testing.T) {
	ctx := context.Background()

	t.Run("Publish and Subscribe", func(t *testing.T) {
		bus := NewMemoryBus(16)
		defer bus.Close()

		all := &collector{}
		_, err := bus.Subscribe(ctx, Filter{}, all.handle)
		require.NoError(t, err)

		require.NoError(t, bus.Publish(ctx, mustEnvelope(t, TypeIndexingProgress, IndexingProgressEvent{})))
		require.NoError(t, bus.Publish(ctx, mustEnvelope(t, TypeIndexingFinished, IndexingFinishedEvent{})))

		assert.Eventually(t, func() bool { return all.count() == 2 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, []string{TypeIndexingProgress, TypeIndexingFinished}, all.types(), "порядок сохранён")
	})

	t.Run("Filter", func(t *testing.T) {
		bus := NewMemoryBus(16)
		defer bus.Close()

		finished := &collector{}
		_, err := bus.Subscribe(ctx, Filter{Types: []string{TypeIndexingFinished}}, finished.handle)
		require.NoError(t, err)
		foreign := &collector{}
		_, err = bus.Subscribe(ctx, Filter{Sources: []string{"api"}}, foreign.handle)
		require.NoError(t, err)

		require.NoError(t, bus.Publish(ctx, mustEnvelope(t, TypeIndexingProgress, IndexingProgressEvent{})))
		require.NoError(t, bus.Publish(ctx, mustEnvelope(t, TypeIndexingFinished, IndexingFinishedEvent{})))

		assert.Eventually(t, func() bool { return finished.count() == 1 }, time.Second, 5*time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, 1, finished.count())
		assert.Zero(t, foreign.count(), "источник не совпадает")
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		bus := NewMemoryBus(16)
		defer bus.Close()

		c := &collector{}
		sub, err := bus.Subscribe(ctx, Filter{}, c.handle)
		require.NoError(t, err)
		sub.Unsubscribe()

		require.NoError(t, bus.Publish(ctx, mustEnvelope(t, TypeIndexingStarted, nil)))
		time.Sleep(20 * time.Millisecond)
		assert.Zero(t, c.count())
	})

	t.Run("Closed", func(t *testing.T) {
		bus := NewMemoryBus(4)
		require.NoError(t, bus.Close())
		require.NoError(t, bus.Close())
		assert.Error(t, bus.Publish(ctx, mustEnvelope(t, TypeIndexingStarted, nil)))
	})

	t.Run("Backpressure", func(t *testing.T) {
		bus := NewMemoryBus(1)
		defer bus.Close()

		release := make(chan struct{})
		started := make(chan struct{}, 1)
		_, err := bus.Subscribe(ctx, Filter{}, func(context.Context, *Envelope) {
			started <- struct{}{}
			<-release
		})
		require.NoError(t, err)

		low := func() *Envelope {
			ev, err := NewEnvelope(SourceIndexer, TypeIndexingProgress, "run-1", PriorityLow, nil)
			require.NoError(t, err)
			return ev
		}
		require.NoError(t, bus.Publish(ctx, low()))
		<-started // обработчик занят, очередь пуста
		require.NoError(t, bus.Publish(ctx, low()))
		require.NoError(t, bus.Publish(ctx, low()), "низкий приоритет не блокирует")
		assert.Equal(t, uint64(1), bus.Metrics().Dropped)

		high, err := NewEnvelope(SourceIndexer, TypeIndexingFinished, "run-1", PriorityHigh, nil)
		require.NoError(t, err)
		tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, bus.Publish(tctx, high), context.DeadlineExceeded, "высокий приоритет ждет места")
		close(release)
	})

	t.Run("Metrics", func(t *testing.T) {
		bus := NewMemoryBus(16)
		defer bus.Close()

		c := &collector{}
		_, err := bus.Subscribe(ctx, Filter{}, c.handle)
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			require.NoError(t, bus.Publish(ctx, mustEnvelope(t, TypeIndexingProgress, nil)))
		}
		assert.Eventually(t, func() bool { return bus.Metrics().Consumed == 3 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, uint64(3), bus.Metrics().Published)
	})
}

func TestMetricsExporter(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus(16)
	defer bus.Close()

	reg := prometheus.NewRegistry()
	me, err := NewMetricsExporter(bus, reg)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, mustEnvelope(t, TypeIndexingProgress, nil)))
	require.NoError(t, bus.Publish(ctx, mustEnvelope(t, TypeIndexingProgress, nil)))

	prev := me.sync(Stats{})
	assert.Equal(t, float64(2), testutil.ToFloat64(me.published))

	require.NoError(t, bus.Publish(ctx, mustEnvelope(t, TypeIndexingProgress, nil)))
	me.sync(prev)
	assert.Equal(t, float64(3), testutil.ToFloat64(me.published), "добавляется только приращение")

	_, err = NewMetricsExporter(bus, reg)
	assert.Error(t, err, "повторная регистрация")

	me.Start()
	me.Stop()
}

func TestLoggingListener(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewMemoryBus(16)
	defer bus.Close()

	sub, err := StartLoggingListener(ctx, bus)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, bus.Publish(ctx, mustEnvelope(t, TypeIndexingFinished, IndexingFinishedEvent{RunID: "run-1", Outcome: "completed"})))
	assert.Eventually(t, func() bool { return bus.Metrics().Consumed == 1 }, time.Second, 5*time.Millisecond)
}

func TestOpen(t *testing.T) {
	t.Setenv("DUST_NATS_URL", "")
	bus, err := Open(&config.EventBusConfig{})
	require.NoError(t, err)
	defer bus.Close()
	_, ok := bus.(*memoryBus)
	assert.True(t, ok, "без URL шина в памяти")
}

func TestJetStreamBus(t *testing.T) {
	url := os.Getenv("DUST_TEST_NATS_URL")
	if url == "" {
		t.Skip("DUST_TEST_NATS_URL не задан")
	}
	ctx := context.Background()

	bus, err := NewJetStreamBus(url, "DUST_MAP_TEST", time.Minute)
	require.NoError(t, err)
	defer bus.Close()

	c := &collector{}
	sub, err := bus.Subscribe(ctx, Filter{Types: []string{TypeIndexingFinished}}, c.handle)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, bus.Publish(ctx, mustEnvelope(t, TypeIndexingFinished, IndexingFinishedEvent{RunID: "run-js"})))
	assert.Eventually(t, func() bool { return c.count() == 1 }, 5*time.Second, 20*time.Millisecond)
}
