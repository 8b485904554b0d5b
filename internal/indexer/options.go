package indexer

import (
	"time"

	"github.com/annel0/dust-map/internal/config"
	"github.com/annel0/dust-map/internal/eventbus"
	"github.com/annel0/dust-map/internal/logging"
	"github.com/annel0/dust-map/internal/world"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultBatchSize    = 50
	DefaultBatchPause   = 50 * time.Millisecond
	DefaultFetchTimeout = 30 * time.Second
)

// Observer получает события прогонов (метрики)
type Observer interface {
	ObserveRunStarted()
	ObserveBatch(blocks int, took time.Duration)
	ObserveRunFinished(outcome string)
}

// Option настраивает Service
type Option func(*Service)

// WithBatchSize число координат в пакете; значения < 1 игнорируются
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithBatchPause пауза между пакетами; 0 отключает паузу
func WithBatchPause(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.batchPause = d
		}
	}
}

// WithFetchTimeout ограничение на чтение одной координаты
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

// WithBounds включает проверку границ мира
func WithBounds(b world.Bounds) Option {
	return func(s *Service) { s.bounds = &b }
}

// WithEventBus публикует IndexingStarted/Progress/Finished
func WithEventBus(bus eventbus.EventBus) Option {
	return func(s *Service) { s.bus = bus }
}

func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// OptionsFromConfig переводит секции indexing и world в опции
func OptionsFromConfig(cfg *config.Config) []Option {
	opts := []Option{
		WithBatchSize(cfg.Indexing.GetBatchSize()),
		WithBatchPause(cfg.Indexing.GetBatchPause()),
		WithFetchTimeout(cfg.Indexing.GetFetchTimeout()),
	}
	if cfg.World.GetEnforceBounds() {
		opts = append(opts, WithBounds(world.WorldBounds))
	}
	return opts
}
