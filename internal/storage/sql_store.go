package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	"github.com/annel0/dust-map/internal/vec"
)

// sqlStatements диалектные запросы записи; чтение у SQLite и MariaDB общее
type sqlStatements struct {
	upsertBlock  string
	upsertGround string
}

// sqlBlockStore общая часть SQL бэкендов (таблицы blocks и ground_level)
type sqlBlockStore struct {
	db     *sql.DB
	stmts  sqlStatements
	closed atomic.Bool
}

const blockColumns = `x, y, z, blockType, biome, indexed_at`

func (s *sqlBlockStore) ready() error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return nil
}

func (s *sqlBlockStore) UpsertBlock(ctx context.Context, b IndexedBlock) error {
	if err := s.ready(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, s.stmts.upsertBlock, b.X, b.Y, b.Z, b.BlockType, b.Biome, b.Timestamp)
	if err != nil {
		return fmt.Errorf("ошибка сохранения блока %s: %w", b.Pos(), err)
	}
	return nil
}

// UpsertBlocks сохраняет пакет в одной транзакции
func (s *sqlBlockStore) UpsertBlocks(ctx context.Context, blocks []IndexedBlock) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(blocks) == 0 {
		return nil // Нечего сохранять
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback() // Откат в случае ошибки

	stmt, err := tx.PrepareContext(ctx, s.stmts.upsertBlock)
	if err != nil {
		return fmt.Errorf("ошибка подготовки запроса: %w", err)
	}
	defer stmt.Close()

	for _, b := range blocks {
		if _, err := stmt.ExecContext(ctx, b.X, b.Y, b.Z, b.BlockType, b.Biome, b.Timestamp); err != nil {
			return fmt.Errorf("ошибка сохранения блока %s в batch: %w", b.Pos(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

func (s *sqlBlockStore) GetBlock(ctx context.Context, pos vec.Vec3) (IndexedBlock, bool, error) {
	if err := s.ready(); err != nil {
		return IndexedBlock{}, false, err
	}

	query := `SELECT ` + blockColumns + ` FROM blocks WHERE x = ? AND y = ? AND z = ?`

	var b IndexedBlock
	err := s.db.QueryRowContext(ctx, query, pos.X, pos.Y, pos.Z).
		Scan(&b.X, &b.Y, &b.Z, &b.BlockType, &b.Biome, &b.Timestamp)
	if err == sql.ErrNoRows {
		return IndexedBlock{}, false, nil
	}
	if err != nil {
		return IndexedBlock{}, false, fmt.Errorf("ошибка загрузки блока %s: %w", pos, err)
	}
	return b, true, nil
}

func (s *sqlBlockStore) GetBlocksInRange(ctx context.Context, r Rect) ([]IndexedBlock, error) {
	query := `SELECT ` + blockColumns + ` FROM blocks
		WHERE x >= ? AND x <= ? AND z >= ? AND z <= ?
		ORDER BY x, z, y`
	return s.queryBlocks(ctx, query, r.MinX, r.MaxX, r.MinZ, r.MaxZ)
}

func (s *sqlBlockStore) GetBlocksInChunk(ctx context.Context, chunk vec.Vec3) ([]IndexedBlock, error) {
	lo, hi := ChunkBounds(chunk)
	query := `SELECT ` + blockColumns + ` FROM blocks
		WHERE x >= ? AND x <= ?
		  AND y >= ? AND y <= ?
		  AND z >= ? AND z <= ?
		ORDER BY x, z, y`
	return s.queryBlocks(ctx, query, lo.X, hi.X, lo.Y, hi.Y, lo.Z, hi.Z)
}

func (s *sqlBlockStore) queryBlocks(ctx context.Context, query string, args ...interface{}) ([]IndexedBlock, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки блоков: %w", err)
	}
	defer rows.Close()

	result := make([]IndexedBlock, 0)
	for rows.Next() {
		var b IndexedBlock
		if err := rows.Scan(&b.X, &b.Y, &b.Z, &b.BlockType, &b.Biome, &b.Timestamp); err != nil {
			return nil, fmt.Errorf("ошибка чтения строки: %w", err)
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка выборки блоков: %w", err)
	}
	return result, nil
}

func (s *sqlBlockStore) GetTotalBlocks(ctx context.Context) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blocks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчета блоков: %w", err)
	}
	return count, nil
}

func (s *sqlBlockStore) GetBlockStatistics(ctx context.Context) (BlockStatistics, error) {
	if err := s.ready(); err != nil {
		return BlockStatistics{}, err
	}

	query := `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN blockType IN (0, 1) THEN 1 ELSE 0 END), 0)
		FROM blocks`

	var st BlockStatistics
	if err := s.db.QueryRowContext(ctx, query).Scan(&st.TotalBlocks, &st.AirBlocks); err != nil {
		return BlockStatistics{}, fmt.Errorf("ошибка расчета статистики: %w", err)
	}
	st.SolidBlocks = st.TotalBlocks - st.AirBlocks
	return st, nil
}

func (s *sqlBlockStore) GetTotalGroundLevels(ctx context.Context) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ground_level`).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчета уровней земли: %w", err)
	}
	return count, nil
}

func (s *sqlBlockStore) UpsertGroundLevels(ctx context.Context, levels []GroundLevelRecord) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(levels) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.stmts.upsertGround)
	if err != nil {
		return fmt.Errorf("ошибка подготовки запроса: %w", err)
	}
	defer stmt.Close()

	for _, l := range levels {
		if _, err := stmt.ExecContext(ctx, l.X, l.Z, l.Y, l.BlockType, l.Biome); err != nil {
			return fmt.Errorf("ошибка сохранения уровня земли (%d,%d): %w", l.X, l.Z, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

func (s *sqlBlockStore) GetGroundLevel(ctx context.Context, x, z int) (GroundLevelRecord, bool, error) {
	if err := s.ready(); err != nil {
		return GroundLevelRecord{}, false, err
	}

	query := `SELECT x, z, y, blockType, biome FROM ground_level WHERE x = ? AND z = ?`

	var l GroundLevelRecord
	err := s.db.QueryRowContext(ctx, query, x, z).Scan(&l.X, &l.Z, &l.Y, &l.BlockType, &l.Biome)
	if err == sql.ErrNoRows {
		return GroundLevelRecord{}, false, nil
	}
	if err != nil {
		return GroundLevelRecord{}, false, fmt.Errorf("ошибка загрузки уровня земли (%d,%d): %w", x, z, err)
	}
	return l, true, nil
}

func (s *sqlBlockStore) GetGroundLevelsInRange(ctx context.Context, r Rect) ([]GroundLevelRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	query := `SELECT x, z, y, blockType, biome FROM ground_level
		WHERE x >= ? AND x <= ? AND z >= ? AND z <= ?
		ORDER BY x, z`

	rows, err := s.db.QueryContext(ctx, query, r.MinX, r.MaxX, r.MinZ, r.MaxZ)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки уровней земли: %w", err)
	}
	defer rows.Close()

	result := make([]GroundLevelRecord, 0)
	for rows.Next() {
		var l GroundLevelRecord
		if err := rows.Scan(&l.X, &l.Z, &l.Y, &l.BlockType, &l.Biome); err != nil {
			return nil, fmt.Errorf("ошибка чтения строки: %w", err)
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

// Close закрывает соединение с базой данных
func (s *sqlBlockStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
