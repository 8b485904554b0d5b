package indexer

import (
	"context"
	"fmt"
	"sync"

	"github.com/annel0/dust-map/internal/storage"
	"github.com/annel0/dust-map/internal/vec"
)

// blockBatch читает координаты пакета параллельно и пишет их одной операцией
func (s *Service) blockBatch(r Region) batchFunc {
	return func(ctx context.Context, from, to int) (vec.Vec3, error) {
		blocks := make([]storage.IndexedBlock, to-from)

		// Ошибки чтения уже сведены шлюзом к {0,0}; пакет дочитывается целиком
		var wg sync.WaitGroup
		for k := from; k < to; k++ {
			wg.Add(1)
			go func(k int) {
				defer wg.Done()
				pos := r.At(k)
				fctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
				defer cancel()

				data := s.source.GetBlockData(fctx, pos)
				s.log.Debug("Блок %s: type=%d, biome=%d", pos, data.BlockType, data.Biome)
				blocks[k-from] = storage.NewIndexedBlock(pos, data.BlockType, data.Biome)
			}(k)
		}
		wg.Wait()

		cursor := r.At(from)
		if err := s.store.UpsertBlocks(ctx, blocks); err != nil {
			return cursor, fmt.Errorf("запись пакета с %s: %w", cursor, err)
		}

		var air int
		for _, b := range blocks {
			if storage.IsAirBlockType(b.BlockType) {
				air++
			}
		}
		s.log.Info("Сохранено %d блоков (%d solid, %d air)", len(blocks), len(blocks)-air, air)
		return cursor, nil
	}
}

// groundBatch ищет землю в столбцах пакета и сохраняет найденные уровни
func (s *Service) groundBatch(r Region, src GroundSource, dst storage.GroundLevelStore, maxY, minY int) batchFunc {
	return func(ctx context.Context, from, to int) (vec.Vec3, error) {
		found := make([]*storage.GroundLevelRecord, to-from)

		var wg sync.WaitGroup
		for k := from; k < to; k++ {
			wg.Add(1)
			go func(k int) {
				defer wg.Done()
				col := r.At(k)
				fctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
				defer cancel()

				gl := src.GroundLevel(fctx, col.X, col.Z, maxY, minY)
				if !gl.Found {
					s.log.Debug("Столбец (%d, %d): земля не найдена", col.X, col.Z)
					return
				}
				found[k-from] = &storage.GroundLevelRecord{
					X:         gl.X,
					Z:         gl.Z,
					Y:         gl.Y,
					BlockType: gl.BlockType,
					Biome:     gl.Biome,
				}
			}(k)
		}
		wg.Wait()

		levels := make([]storage.GroundLevelRecord, 0, len(found))
		for _, gl := range found {
			if gl != nil {
				levels = append(levels, *gl)
			}
		}

		cursor := r.At(from)
		if len(levels) > 0 {
			if err := dst.UpsertGroundLevels(ctx, levels); err != nil {
				return cursor, fmt.Errorf("запись уровней земли с %s: %w", cursor, err)
			}
		}
		s.log.Info("Уровни земли: %d из %d столбцов", len(levels), to-from)
		return cursor, nil
	}
}
