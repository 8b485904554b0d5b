// Package indexer заполняет локальное хранилище блоками, прочитанными через
// шлюз данных мира: горизонтальный срез обходится пакетами, прогресс
// публикуется после каждого пакета.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/dust-map/internal/chain"
	"github.com/annel0/dust-map/internal/eventbus"
	"github.com/annel0/dust-map/internal/logging"
	"github.com/annel0/dust-map/internal/storage"
	"github.com/annel0/dust-map/internal/vec"
	"github.com/annel0/dust-map/internal/world"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrAlreadyRunning прогон уже идет на этом экземпляре
	ErrAlreadyRunning = errors.New("indexer: indexing is already running")
	// ErrOutOfBounds срез выходит за границы мира
	ErrOutOfBounds = errors.New("indexer: region is out of world bounds")
	// ErrInvalidRegion min > max по одной из осей
	ErrInvalidRegion = errors.New("indexer: invalid region")
	// ErrGroundUnsupported источник или хранилище не умеют уровни земли
	ErrGroundUnsupported = errors.New("indexer: ground levels are not supported")
)

// Виды прогонов
const (
	KindBlocks = "blocks"
	KindGround = "ground"
)

// BlockSource источник данных блоков (world.Gateway). Никогда не возвращает
// ошибку: сбой чтения подменяется воздухом.
type BlockSource interface {
	GetBlockData(ctx context.Context, pos vec.Vec3) world.BlockData
}

// GroundSource поиск уровня земли в столбце
type GroundSource interface {
	GroundLevel(ctx context.Context, x, z, maxY, minY int) world.GroundLevel
}

// Outcome итог последнего прогона
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeCompleted Outcome = "completed"
	OutcomeStopped   Outcome = "stopped"
	OutcomeFailed    Outcome = "failed"
)

// Progress снимок состояния прогона
type Progress struct {
	RunID               string    `json:"runId,omitempty"`
	Kind                string    `json:"kind,omitempty"`
	TotalBlocks         int       `json:"totalBlocks"`
	IndexedBlocks       int       `json:"indexedBlocks"`
	StartTime           time.Time `json:"startTime"`
	EstimatedCompletion time.Time `json:"estimatedCompletion"`
	CurrentPosition     vec.Vec3  `json:"currentPosition"`
}

// ProgressFunc вызывается после каждого пакета и при завершении
type ProgressFunc func(Progress)

// Service управляет прогонами индексации. Одновременно идет не больше
// одного прогона на экземпляр.
type Service struct {
	source BlockSource
	store  storage.BlockStore

	batchSize    int
	batchPause   time.Duration
	fetchTimeout time.Duration
	bounds       *world.Bounds

	bus      eventbus.EventBus
	observer Observer
	log      *logging.Logger
	tracer   trace.Tracer

	mu       sync.RWMutex
	running  bool
	progress Progress
	outcome  Outcome
	lastErr  error

	stopRequested atomic.Bool
}

// NewService создает службу индексации
func NewService(source BlockSource, store storage.BlockStore, opts ...Option) *Service {
	s := &Service{
		source:       source,
		store:        store,
		batchSize:    DefaultBatchSize,
		batchPause:   DefaultBatchPause,
		fetchTimeout: DefaultFetchTimeout,
		log:          logging.GetIndexerLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("github.com/annel0/dust-map/internal/indexer")
	}
	return s
}

// StartIndexing индексирует срез r и блокируется до конца прогона.
// Остановка через StopIndexing не является ошибкой; отмена ctx возвращает ctx.Err().
func (s *Service) StartIndexing(ctx context.Context, r Region, onProgress ProgressFunc) error {
	if err := s.checkRegion(r); err != nil {
		return err
	}
	s.log.Info("Индексация среза %s: %d координат", r, r.Total())
	return s.run(ctx, KindBlocks, r.Total(), r.At(0), onProgress, s.blockBatch(r))
}

// StartIndexingAsync проверяет срез и захватывает экземпляр синхронно,
// сам прогон идет в фоне. Канал получает итог прогона и закрывается.
func (s *Service) StartIndexingAsync(ctx context.Context, r Region, onProgress ProgressFunc) (<-chan error, error) {
	if err := s.checkRegion(r); err != nil {
		return nil, err
	}
	s.log.Info("Фоновая индексация среза %s: %d координат", r, r.Total())
	return s.spawn(ctx, KindBlocks, r.Total(), r.At(0), onProgress, s.blockBatch(r))
}

// IndexChunk индексирует чанк 16x16 на уровне y
func (s *Service) IndexChunk(ctx context.Context, chunkX, chunkZ, y int, onProgress ProgressFunc) error {
	return s.StartIndexing(ctx, ChunkRegion(chunkX, chunkZ, y), onProgress)
}

// IndexArea индексирует квадрат радиуса radius вокруг центра
func (s *Service) IndexArea(ctx context.Context, centerX, centerZ, radius, y int, onProgress ProgressFunc) error {
	return s.StartIndexing(ctx, AreaRegion(centerX, centerZ, radius, y), onProgress)
}

// IndexGroundLevels ищет уровень земли для каждого столбца rect и сохраняет
// найденные. Разделяет с StartIndexing защиту от параллельных прогонов.
func (s *Service) IndexGroundLevels(ctx context.Context, rect storage.Rect, maxY, minY int, onProgress ProgressFunc) error {
	r, step, err := s.prepareGround(rect, maxY, minY)
	if err != nil {
		return err
	}
	return s.run(ctx, KindGround, r.Total(), r.At(0), onProgress, step)
}

// IndexGroundLevelsAsync фоновый вариант IndexGroundLevels
func (s *Service) IndexGroundLevelsAsync(ctx context.Context, rect storage.Rect, maxY, minY int, onProgress ProgressFunc) (<-chan error, error) {
	r, step, err := s.prepareGround(rect, maxY, minY)
	if err != nil {
		return nil, err
	}
	return s.spawn(ctx, KindGround, r.Total(), r.At(0), onProgress, step)
}

func (s *Service) prepareGround(rect storage.Rect, maxY, minY int) (Region, batchFunc, error) {
	gsrc, ok := s.source.(GroundSource)
	if !ok {
		return Region{}, nil, fmt.Errorf("%w: source %T", ErrGroundUnsupported, s.source)
	}
	gstore, ok := s.store.(storage.GroundLevelStore)
	if !ok {
		return Region{}, nil, fmt.Errorf("%w: store %T", ErrGroundUnsupported, s.store)
	}
	if err := world.CheckColumnRange(maxY, minY); err != nil {
		return Region{}, nil, fmt.Errorf("%w: %v", ErrInvalidRegion, err)
	}
	r := Region{MinX: rect.MinX, MaxX: rect.MaxX, MinZ: rect.MinZ, MaxZ: rect.MaxZ, Y: maxY}
	if err := s.checkRegion(r); err != nil {
		return Region{}, nil, err
	}
	s.log.Info("Поиск земли %s, y=[%d,%d]: %d столбцов", r, minY, maxY, r.Total())
	return r, s.groundBatch(r, gsrc, gstore, maxY, minY), nil
}

// StopIndexing просит прогон остановиться перед следующим пакетом.
// Уже запущенный пакет дочитывается и сохраняется. Возвращает true, если прогон шел.
func (s *Service) StopIndexing() bool {
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()
	if running {
		s.stopRequested.Store(true)
		s.log.Info("Запрошена остановка индексации")
	}
	return running
}

// GetProgress копия текущего прогресса
func (s *Service) GetProgress() Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress
}

func (s *Service) IsIndexing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// LastOutcome итог и ошибка последнего завершенного прогона
func (s *Service) LastOutcome() (Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outcome, s.lastErr
}

func (s *Service) checkRegion(r Region) error {
	if err := r.Validate(); err != nil {
		return err
	}
	lo := vec.Vec3{X: r.MinX, Y: r.Y, Z: r.MinZ}
	hi := vec.Vec3{X: r.MaxX, Y: r.Y, Z: r.MaxZ}
	if err := chain.CheckVec3(lo); err != nil {
		return err
	}
	if err := chain.CheckVec3(hi); err != nil {
		return err
	}
	if s.bounds != nil && !s.bounds.ContainsRect(r.MinX, r.MaxX, r.MinZ, r.MaxZ, r.Y) {
		return fmt.Errorf("%w: %s", ErrOutOfBounds, r)
	}
	return nil
}

// batchFunc обрабатывает координаты [from, to) и возвращает курсор пакета
type batchFunc func(ctx context.Context, from, to int) (vec.Vec3, error)

// begin захватывает экземпляр под новый прогон и сбрасывает прогресс
func (s *Service) begin(kind string, total int, first vec.Vec3) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return "", ErrAlreadyRunning
	}
	runID := uuid.NewString()
	s.running = true
	s.stopRequested.Store(false)
	s.progress = Progress{
		RunID:           runID,
		Kind:            kind,
		TotalBlocks:     total,
		StartTime:       time.Now(),
		CurrentPosition: first,
	}
	return runID, nil
}

// run захватывает экземпляр и выполняет прогон в текущей горутине
func (s *Service) run(ctx context.Context, kind string, total int, first vec.Vec3, onProgress ProgressFunc, step batchFunc) error {
	runID, err := s.begin(kind, total, first)
	if err != nil {
		return err
	}
	return s.loop(ctx, runID, kind, total, onProgress, step)
}

// spawn захватывает экземпляр и выполняет прогон в фоне
func (s *Service) spawn(ctx context.Context, kind string, total int, first vec.Vec3, onProgress ProgressFunc, step batchFunc) (<-chan error, error) {
	runID, err := s.begin(kind, total, first)
	if err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- s.loop(ctx, runID, kind, total, onProgress, step)
	}()
	return done, nil
}

// loop общий цикл пакетов: проверка остановки, пакет, прогресс, пауза
func (s *Service) loop(ctx context.Context, runID, kind string, total int, onProgress ProgressFunc, step batchFunc) (err error) {
	if s.observer != nil {
		s.observer.ObserveRunStarted()
	}

	// Пакет в полете дочитывается и сохраняется даже после отмены ctx
	work := context.WithoutCancel(ctx)
	ctx, span := s.tracer.Start(ctx, "indexer."+kind, trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Int("run.total", total),
	))

	start := time.Now()
	outcome := OutcomeCompleted
	defer func() {
		s.finish(work, runID, kind, outcome, err, time.Since(start))
		span.SetAttributes(attribute.String("run.outcome", string(outcome)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	s.publish(work, eventbus.TypeIndexingStarted, runID, eventbus.PriorityNormal, s.progressEvent(s.GetProgress()))

	for from := 0; from < total; from += s.batchSize {
		if s.stopRequested.Load() {
			outcome = OutcomeStopped
			s.log.Info("Индексация %s остановлена на %d/%d", runID, from, total)
			return nil
		}
		if ctx.Err() != nil {
			outcome = OutcomeStopped
			s.log.Info("Индексация %s прервана на %d/%d: %v", runID, from, total, ctx.Err())
			return ctx.Err()
		}

		to := min(from+s.batchSize, total)
		batchStart := time.Now()
		bctx, bspan := s.tracer.Start(trace.ContextWithSpan(work, span), "indexer.batch", trace.WithAttributes(
			attribute.Int("batch.from", from),
			attribute.Int("batch.size", to-from),
		))
		cursor, stepErr := step(bctx, from, to)
		if stepErr != nil {
			bspan.RecordError(stepErr)
			bspan.End()
			outcome = OutcomeFailed
			s.log.Error("Индексация %s прервана ошибкой хранилища: %v", runID, stepErr)
			return stepErr
		}
		bspan.End()
		if s.observer != nil {
			s.observer.ObserveBatch(to-from, time.Since(batchStart))
		}

		s.emitProgress(work, s.advance(to, cursor), onProgress)

		if to < total && s.batchPause > 0 {
			t := time.NewTimer(s.batchPause)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
			}
		}
	}

	s.emitProgress(work, s.complete(), onProgress)
	return nil
}

// advance фиксирует пакет и пересчитывает оценку завершения
func (s *Service) advance(indexed int, cursor vec.Vec3) Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &s.progress
	p.IndexedBlocks = indexed
	p.CurrentPosition = cursor
	if indexed > 0 {
		elapsed := time.Since(p.StartTime)
		perBlock := elapsed / time.Duration(indexed)
		p.EstimatedCompletion = time.Now().Add(perBlock * time.Duration(p.TotalBlocks-indexed))
	}
	return *p
}

// complete по исчерпании цикла прогресс равен total
func (s *Service) complete() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress.IndexedBlocks = s.progress.TotalBlocks
	return s.progress
}

// finish освобождает экземпляр при любом исходе
func (s *Service) finish(ctx context.Context, runID, kind string, outcome Outcome, err error, took time.Duration) {
	s.mu.Lock()
	s.running = false
	s.outcome = outcome
	s.lastErr = err
	p := s.progress
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.ObserveRunFinished(string(outcome))
	}

	ev := eventbus.IndexingFinishedEvent{
		RunID:         runID,
		Outcome:       string(outcome),
		TotalBlocks:   p.TotalBlocks,
		IndexedBlocks: p.IndexedBlocks,
		Duration:      took,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.publish(ctx, eventbus.TypeIndexingFinished, runID, eventbus.PriorityHigh, ev)
	s.log.Info("Прогон %s (%s) завершен: %s, %d/%d за %s", runID, kind, outcome, p.IndexedBlocks, p.TotalBlocks, took.Round(time.Millisecond))
}

func (s *Service) emitProgress(ctx context.Context, p Progress, onProgress ProgressFunc) {
	if onProgress != nil {
		onProgress(p)
	}
	s.publish(ctx, eventbus.TypeIndexingProgress, p.RunID, eventbus.PriorityLow, s.progressEvent(p))
}

func (s *Service) progressEvent(p Progress) eventbus.IndexingProgressEvent {
	return eventbus.IndexingProgressEvent{
		RunID:               p.RunID,
		TotalBlocks:         p.TotalBlocks,
		IndexedBlocks:       p.IndexedBlocks,
		CurrentPosition:     p.CurrentPosition,
		StartTime:           p.StartTime,
		EstimatedCompletion: p.EstimatedCompletion,
	}
}

func (s *Service) publish(ctx context.Context, eventType, runID string, priority eventbus.Priority, payload interface{}) {
	if s.bus == nil {
		return
	}
	ev, err := eventbus.NewEnvelope(eventbus.SourceIndexer, eventType, runID, priority, payload)
	if err != nil {
		s.log.Warn("Событие %s не создано: %v", eventType, err)
		return
	}
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.log.Warn("Событие %s не опубликовано: %v", eventType, err)
	}
}
