package world

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/annel0/dust-map/internal/chain"
	"github.com/annel0/dust-map/internal/ledger"
	"github.com/annel0/dust-map/internal/logging"
	"github.com/annel0/dust-map/internal/vec"
)

// ChunkCache общий кэш блобов чанков между экземплярами (L2).
// Ключ - адрес SSTORE2 контракта; блоб сгенерированного чанка неизменен.
type ChunkCache interface {
	GetChunk(ctx context.Context, pointer chain.Address) ([]byte, bool, error)
	SetChunk(ctx context.Context, pointer chain.Address, blob []byte) error
}

// DefaultChunkFetchTimeout предел общей загрузки чанка, не зависящий от вызывающих
const DefaultChunkFetchTimeout = 30 * time.Second

// GatewayObserver получает события шлюза (метрики)
type GatewayObserver interface {
	ObserveCacheHit()
	ObserveCacheMiss()
	ObserveChunkFetch(empty bool, took time.Duration)
	ObserveFetchError(stage string)
}

// Gateway разрешает координату в {blockType, biome}: кэш -> запись
// переопределения -> блоб чанка. Кэши принадлежат экземпляру.
type Gateway struct {
	reader  ledger.Reader
	world   chain.Address
	cache   BlockCache
	l2      ChunkCache
	catalog *ObjectTypeCatalog

	chunksMu sync.RWMutex
	chunks   map[vec.Vec3]ChunkBlob
	group    singleflight.Group

	fetchTimeout time.Duration

	log      *logging.Logger
	tracer   trace.Tracer
	observer GatewayObserver
}

// GatewayOption настраивает Gateway
type GatewayOption func(*Gateway)

// WithBlockCache заменяет неограниченный кэш декодированных блоков
func WithBlockCache(c BlockCache) GatewayOption {
	return func(g *Gateway) { g.cache = c }
}

// WithChunkCache подключает общий L2 кэш блобов
func WithChunkCache(c ChunkCache) GatewayOption {
	return func(g *Gateway) { g.l2 = c }
}

// WithObjectTypes задает справочник типов для поиска земли
func WithObjectTypes(c *ObjectTypeCatalog) GatewayOption {
	return func(g *Gateway) { g.catalog = c }
}

// WithChunkFetchTimeout задает предел загрузки одного чанка
func WithChunkFetchTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.fetchTimeout = d }
}

// WithLogger задает логгер компонента
func WithLogger(l *logging.Logger) GatewayOption {
	return func(g *Gateway) { g.log = l }
}

// WithObserver подключает сбор метрик
func WithObserver(o GatewayObserver) GatewayOption {
	return func(g *Gateway) { g.observer = o }
}

// NewGateway создает шлюз данных мира worldAddr.
//
// Параметры:
//   - reader: доступ к состоянию сети только для чтения
//   - worldAddr: адрес контракта мира (deployer для CREATE3 и владелец таблиц)
func NewGateway(reader ledger.Reader, worldAddr chain.Address, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		reader: reader,
		world:  worldAddr,
		chunks:       make(map[vec.Vec3]ChunkBlob),
		fetchTimeout: DefaultChunkFetchTimeout,
		tracer:       otel.Tracer("github.com/annel0/dust-map/internal/world"),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.cache == nil {
		g.cache = NewMapBlockCache()
	}
	if g.catalog == nil {
		g.catalog = DefaultCatalog()
	}
	if g.log == nil {
		g.log = logging.GetGatewayLogger()
	}
	return g
}

// WorldAddress адрес контракта мира
func (g *Gateway) WorldAddress() chain.Address {
	return g.world
}

// ObjectTypes справочник типов шлюза
func (g *Gateway) ObjectTypes() *ObjectTypeCatalog {
	return g.catalog
}

// GetBlockData возвращает данные блока и никогда не завершается ошибкой:
// при внутреннем сбое результат {0, 0} (воздух, неисследованный чанк),
// ошибка только логируется и не кэшируется.
func (g *Gateway) GetBlockData(ctx context.Context, pos vec.Vec3) BlockData {
	if data, ok := g.cache.Get(pos); ok {
		g.observeHit()
		return data
	}
	g.observeMiss()

	data, err := g.fetchBlockData(ctx, pos)
	if err != nil {
		g.log.Warn("Блок %s: %v, возвращаем воздух", pos, err)
		return BlockData{}
	}

	g.cache.Set(pos, data)
	return data
}

// fetchBlockData явный шаг с ошибкой. Сбой чтения записи переопределения
// не фатален: тип берется из чанка. Сбой чтения чанка возвращается.
func (g *Gateway) fetchBlockData(ctx context.Context, pos vec.Vec3) (BlockData, error) {
	if err := chain.CheckVec3(pos); err != nil {
		return BlockData{}, err
	}

	ctx, span := g.tracer.Start(ctx, "world.fetchBlockData", trace.WithAttributes(
		attribute.Int("x", pos.X), attribute.Int("y", pos.Y), attribute.Int("z", pos.Z)))
	defer span.End()

	override := g.readOverride(ctx, pos)

	chunk := pos.ToChunk()
	blob, err := g.chunkBlob(ctx, chunk)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chunk fetch failed")
		return BlockData{}, err
	}

	data, err := DecodeBlock(blob, pos)
	if err != nil {
		g.observeError("decode")
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return BlockData{}, err
	}

	// 0 в записи переопределения неотличим от отсутствия записи
	if override != 0 {
		data.BlockType = override
	}

	if blob.IsEmpty() {
		g.log.Debug("Чанк %s не исследован, блок %s: type=%d", chunk, pos, data.BlockType)
	} else {
		g.log.Trace("Блок %s в чанке %s: type=%d, biome=%d", pos, chunk, data.BlockType, data.Biome)
	}
	span.SetAttributes(attribute.Int("block_type", int(data.BlockType)), attribute.Int("biome", int(data.Biome)))
	return data, nil
}

// readOverride читает ObjectType из таблицы EntityObjectType; 0 - записи нет или чтение не удалось
func (g *Gateway) readOverride(ctx context.Context, pos vec.Vec3) uint16 {
	key := chain.Hash(chain.EncodeBlock(pos))
	rec, err := g.reader.GetRecord(ctx, g.world, ledger.EntityObjectTypeTableID, []chain.Hash{key})
	if err != nil {
		g.observeError("override")
		g.log.Debug("Запись EntityObjectType для %s недоступна: %v, читаем чанк", pos, err)
		return 0
	}
	return ledger.ObjectTypeFromRecord(rec)
}

// chunkBlob возвращает блоб чанка из кэша экземпляра, L2 или сети.
// Параллельные запросы одного чанка объединяются в одну загрузку, которая
// не зависит от отмены ctx первого вызывающего и ограничена fetchTimeout.
// Каждый вызывающий ждет результат в пределах своего ctx.
func (g *Gateway) chunkBlob(ctx context.Context, chunk vec.Vec3) (ChunkBlob, error) {
	g.chunksMu.RLock()
	blob, ok := g.chunks[chunk]
	g.chunksMu.RUnlock()
	if ok {
		return blob, nil
	}

	ch := g.group.DoChan(chunk.String(), func() (interface{}, error) {
		g.chunksMu.RLock()
		blob, ok := g.chunks[chunk]
		g.chunksMu.RUnlock()
		if ok {
			return blob, nil
		}

		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.fetchTimeout)
		defer cancel()
		blob, err := g.loadChunk(lctx, chunk)
		if err != nil {
			return nil, err
		}

		g.chunksMu.Lock()
		g.chunks[chunk] = blob
		g.chunksMu.Unlock()
		return blob, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(ChunkBlob), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("chunk %s: %w", chunk, ctx.Err())
	}
}

func (g *Gateway) loadChunk(ctx context.Context, chunk vec.Vec3) (ChunkBlob, error) {
	pointer := chain.ChunkPointer(chunk, g.world)

	if g.l2 != nil {
		data, ok, err := g.l2.GetChunk(ctx, pointer)
		switch {
		case err != nil:
			g.log.Debug("L2 кэш чанков недоступен для %s: %v", chunk, err)
		case ok:
			return ChunkBlob(data), nil
		}
	}

	start := time.Now()
	code, err := g.reader.GetCode(ctx, pointer)
	if err != nil {
		g.observeError("chunk")
		return nil, fmt.Errorf("chunk %s at %s: %w", chunk, pointer, err)
	}
	blob := ChunkBlobFromCode(code)
	if g.observer != nil {
		g.observer.ObserveChunkFetch(blob.IsEmpty(), time.Since(start))
	}

	if blob.IsEmpty() {
		// неисследованный чанк может быть сгенерирован позже, в L2 не кладем
		return blob, nil
	}

	if err := blob.Validate(); err != nil {
		g.log.Warn("Чанк %s (%s): %v\n%s", chunk, pointer, err, logging.HexDump(blob))
	}
	if g.l2 != nil {
		if err := g.l2.SetChunk(ctx, pointer, blob); err != nil {
			g.log.Debug("Не удалось сохранить чанк %s в L2: %v", chunk, err)
		}
	}
	return blob, nil
}

// ClearCache очищает кэш блоков и кэш чанков экземпляра
func (g *Gateway) ClearCache() {
	g.cache.Clear()
	g.chunksMu.Lock()
	g.chunks = make(map[vec.Vec3]ChunkBlob)
	g.chunksMu.Unlock()
}

// Invalidate удаляет один блок из кэша (запись переопределения изменилась)
func (g *Gateway) Invalidate(pos vec.Vec3) {
	g.cache.Delete(pos)
}

// GatewayStats размеры кэшей
type GatewayStats struct {
	CachedBlocks int `json:"cachedBlocks"`
	CachedChunks int `json:"cachedChunks"`
}

func (g *Gateway) Stats() GatewayStats {
	g.chunksMu.RLock()
	chunks := len(g.chunks)
	g.chunksMu.RUnlock()
	return GatewayStats{CachedBlocks: g.cache.Len(), CachedChunks: chunks}
}

func (g *Gateway) observeHit() {
	if g.observer != nil {
		g.observer.ObserveCacheHit()
	}
}

func (g *Gateway) observeMiss() {
	if g.observer != nil {
		g.observer.ObserveCacheMiss()
	}
}

func (g *Gateway) observeError(stage string) {
	if g.observer != nil {
		g.observer.ObserveFetchError(stage)
	}
}
