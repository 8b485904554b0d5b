package storage

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/annel0/dust-map/internal/vec"
)

// MongoConfig параметры подключения к MongoDB
type MongoConfig struct {
	URI      string // например mongodb://localhost:27017
	Database string // например dust_map
}

// MongoBlockStore реализует BlockStore и GroundLevelStore на MongoDB
type MongoBlockStore struct {
	client     *mongo.Client
	blocks     *mongo.Collection
	ground     *mongo.Collection
	ctxTimeout time.Duration
	closed     atomic.Bool
}

// NewMongoBlockStore подключается к MongoDB и создает индексы
func NewMongoBlockStore(cfg MongoConfig) (*MongoBlockStore, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "dust_map"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("не удалось проверить соединение с MongoDB: %w", err)
	}

	db := client.Database(cfg.Database)
	s := &MongoBlockStore{
		client:     client,
		blocks:     db.Collection("blocks"),
		ground:     db.Collection("ground_level"),
		ctxTimeout: 30 * time.Second,
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("не удалось создать индексы: %w", err)
	}
	return s, nil
}

func (s *MongoBlockStore) ensureIndexes(ctx context.Context) error {
	xyz := mongo.IndexModel{
		Keys:    bson.D{{Key: "x", Value: 1}, {Key: "z", Value: 1}, {Key: "y", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("xzy_unique"),
	}
	if _, err := s.blocks.Indexes().CreateOne(ctx, xyz); err != nil {
		return err
	}
	xz := mongo.IndexModel{
		Keys:    bson.D{{Key: "x", Value: 1}, {Key: "z", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("xz_unique"),
	}
	_, err := s.ground.Indexes().CreateOne(ctx, xz)
	return err
}

func blockFilter(x, y, z int) bson.D {
	return bson.D{{Key: "x", Value: x}, {Key: "y", Value: y}, {Key: "z", Value: z}}
}

func (s *MongoBlockStore) UpsertBlock(ctx context.Context, b IndexedBlock) error {
	ctx, cancel := context.WithTimeout(ctx, s.ctxTimeout)
	defer cancel()

	_, err := s.blocks.ReplaceOne(ctx, blockFilter(b.X, b.Y, b.Z), b, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("ошибка сохранения блока %s: %w", b.Pos(), err)
	}
	return nil
}

// UpsertBlocks неупорядоченный BulkWrite: одна ошибка не останавливает остальные записи
func (s *MongoBlockStore) UpsertBlocks(ctx context.Context, blocks []IndexedBlock) error {
	if len(blocks) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.ctxTimeout)
	defer cancel()

	models := make([]mongo.WriteModel, 0, len(blocks))
	for _, b := range blocks {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(blockFilter(b.X, b.Y, b.Z)).
			SetReplacement(b).
			SetUpsert(true))
	}

	if _, err := s.blocks.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("ошибка пакетного сохранения %d блоков: %w", len(blocks), err)
	}
	return nil
}

func (s *MongoBlockStore) GetBlock(ctx context.Context, pos vec.Vec3) (IndexedBlock, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.ctxTimeout)
	defer cancel()

	var b IndexedBlock
	err := s.blocks.FindOne(ctx, blockFilter(pos.X, pos.Y, pos.Z)).Decode(&b)
	if err == mongo.ErrNoDocuments {
		return IndexedBlock{}, false, nil
	}
	if err != nil {
		return IndexedBlock{}, false, fmt.Errorf("ошибка загрузки блока %s: %w", pos, err)
	}
	return b, true, nil
}

func (s *MongoBlockStore) GetBlocksInRange(ctx context.Context, r Rect) ([]IndexedBlock, error) {
	filter := bson.M{
		"x": bson.M{"$gte": r.MinX, "$lte": r.MaxX},
		"z": bson.M{"$gte": r.MinZ, "$lte": r.MaxZ},
	}
	return s.findBlocks(ctx, filter)
}

func (s *MongoBlockStore) GetBlocksInChunk(ctx context.Context, chunk vec.Vec3) ([]IndexedBlock, error) {
	lo, hi := ChunkBounds(chunk)
	filter := bson.M{
		"x": bson.M{"$gte": lo.X, "$lte": hi.X},
		"y": bson.M{"$gte": lo.Y, "$lte": hi.Y},
		"z": bson.M{"$gte": lo.Z, "$lte": hi.Z},
	}
	return s.findBlocks(ctx, filter)
}

func (s *MongoBlockStore) findBlocks(ctx context.Context, filter bson.M) ([]IndexedBlock, error) {
	ctx, cancel := context.WithTimeout(ctx, s.ctxTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "x", Value: 1}, {Key: "z", Value: 1}, {Key: "y", Value: 1}})
	cur, err := s.blocks.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки блоков: %w", err)
	}

	result := make([]IndexedBlock, 0)
	if err := cur.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("ошибка чтения блоков: %w", err)
	}
	return result, nil
}

func (s *MongoBlockStore) GetTotalBlocks(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.ctxTimeout)
	defer cancel()

	n, err := s.blocks.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчета блоков: %w", err)
	}
	return n, nil
}

func (s *MongoBlockStore) GetBlockStatistics(ctx context.Context) (BlockStatistics, error) {
	total, err := s.GetTotalBlocks(ctx)
	if err != nil {
		return BlockStatistics{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.ctxTimeout)
	defer cancel()

	air, err := s.blocks.CountDocuments(ctx, bson.M{"blockType": bson.M{"$in": bson.A{0, 1}}})
	if err != nil {
		return BlockStatistics{}, fmt.Errorf("ошибка расчета статистики: %w", err)
	}
	return BlockStatistics{AirBlocks: air, SolidBlocks: total - air, TotalBlocks: total}, nil
}

func (s *MongoBlockStore) GetTotalGroundLevels(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.ctxTimeout)
	defer cancel()

	n, err := s.ground.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчета уровней земли: %w", err)
	}
	return n, nil
}

func (s *MongoBlockStore) UpsertGroundLevels(ctx context.Context, levels []GroundLevelRecord) error {
	if len(levels) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.ctxTimeout)
	defer cancel()

	models := make([]mongo.WriteModel, 0, len(levels))
	for _, l := range levels {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "x", Value: l.X}, {Key: "z", Value: l.Z}}).
			SetReplacement(l).
			SetUpsert(true))
	}
	if _, err := s.ground.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("ошибка сохранения уровней земли: %w", err)
	}
	return nil
}

func (s *MongoBlockStore) GetGroundLevel(ctx context.Context, x, z int) (GroundLevelRecord, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.ctxTimeout)
	defer cancel()

	var l GroundLevelRecord
	err := s.ground.FindOne(ctx, bson.D{{Key: "x", Value: x}, {Key: "z", Value: z}}).Decode(&l)
	if err == mongo.ErrNoDocuments {
		return GroundLevelRecord{}, false, nil
	}
	if err != nil {
		return GroundLevelRecord{}, false, fmt.Errorf("ошибка загрузки уровня земли (%d,%d): %w", x, z, err)
	}
	return l, true, nil
}

func (s *MongoBlockStore) GetGroundLevelsInRange(ctx context.Context, r Rect) ([]GroundLevelRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.ctxTimeout)
	defer cancel()

	filter := bson.M{
		"x": bson.M{"$gte": r.MinX, "$lte": r.MaxX},
		"z": bson.M{"$gte": r.MinZ, "$lte": r.MaxZ},
	}
	opts := options.Find().SetSort(bson.D{{Key: "x", Value: 1}, {Key: "z", Value: 1}})
	cur, err := s.ground.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки уровней земли: %w", err)
	}
	result := make([]GroundLevelRecord, 0)
	if err := cur.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("ошибка чтения уровней земли: %w", err)
	}
	return result, nil
}

// Close отключается от MongoDB
func (s *MongoBlockStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
