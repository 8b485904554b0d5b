package world

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/annel0/dust-map/internal/vec"
)

// Параметры сканирования по умолчанию
const (
	DefaultGroundMaxY = 100
	DefaultGroundMinY = -64

	// Пределы анализа столбца над и под позицией
	columnFloorY   = -60
	columnCeilingY = 322

	groundBatchLimit = 16
)

// ErrColumnRange диапазон Y столбца пуст или выходит за высоту мира
var ErrColumnRange = errors.New("column y range outside world")

// CheckColumnRange проверяет диапазон сканирования столбца [minY, maxY]
func CheckColumnRange(maxY, minY int) error {
	if maxY < minY {
		return fmt.Errorf("maxY %d < minY %d: %w", maxY, minY, ErrColumnRange)
	}
	if minY < WorldBounds.Min.Y || maxY > WorldBounds.Max.Y {
		return fmt.Errorf("y=[%d,%d] вне [%d,%d]: %w", minY, maxY, WorldBounds.Min.Y, WorldBounds.Max.Y, ErrColumnRange)
	}
	return nil
}

// CheckColumnY проверяет высоту позиции для анализа столбца
func CheckColumnY(y int) error {
	if y < WorldBounds.Min.Y || y > WorldBounds.Max.Y {
		return fmt.Errorf("y=%d вне [%d,%d]: %w", y, WorldBounds.Min.Y, WorldBounds.Max.Y, ErrColumnRange)
	}
	return nil
}

// caveMarkerTypes типы, на которых останавливается анализ столбца
var caveMarkerTypes = map[uint16]struct{}{
	ObjectTypeAir:   {},
	ObjectTypeWater: {},
	111:             {},
}

// GroundLevel верхний твердый блок столбца (x, z)
type GroundLevel struct {
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Z         int    `json:"z"`
	BlockType uint16 `json:"blockType"`
	Biome     uint8  `json:"biome"`
	Found     bool   `json:"found"`
}

// Column столбец для пакетного поиска земли
type Column struct {
	X int `json:"x"`
	Z int `json:"z"`
}

// GroundLevel ищет сверху вниз от maxY до minY первый блок, который не
// является воздухом и не проходим. Found=false, если земли нет или ctx отменен.
// Диапазон обрезается по высоте мира.
func (g *Gateway) GroundLevel(ctx context.Context, x, z, maxY, minY int) GroundLevel {
	res := GroundLevel{X: x, Z: z}
	maxY = min(maxY, WorldBounds.Max.Y)
	minY = max(minY, WorldBounds.Min.Y)
	for y := maxY; y >= minY; y-- {
		if ctx.Err() != nil {
			return res
		}
		data := g.GetBlockData(ctx, vec.Vec3{X: x, Y: y, Z: z})
		if data.IsAir() || g.catalog.IsPassThrough(data.BlockType) {
			continue
		}
		res.Y = y
		res.BlockType = data.BlockType
		res.Biome = data.Biome
		res.Found = true
		return res
	}
	return res
}

// GroundLevelsBatch ищет землю для набора столбцов параллельно.
// Порядок результата совпадает с порядком cols. При отмене ctx оставшиеся
// столбцы не читаются и возвращается ошибка ctx.
func (g *Gateway) GroundLevelsBatch(ctx context.Context, cols []Column, maxY, minY int) ([]GroundLevel, error) {
	out := make([]GroundLevel, len(cols))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(groundBatchLimit)
	for i, c := range cols {
		i, c := i, c
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			out[i] = g.GroundLevel(egCtx, c.X, c.Z, maxY, minY)
			return egCtx.Err()
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ColumnAnalysis сведения о столбце вокруг позиции игрока
type ColumnAnalysis struct {
	Position vec.Vec3 `json:"position"`
	// BlockBelow тип блока под позицией (y-1)
	BlockBelow uint16 `json:"blockBelow"`
	// DistanceToCave расстояние вниз до первой полости, nil - не найдена до Y=-60
	DistanceToCave *int `json:"distanceToCave"`
	// DistanceToSurface расстояние вверх до первой полости (с y+2), nil - не найдена
	DistanceToSurface *int `json:"distanceToSurface"`
}

// AnalyzeColumn повторяет анализ столбца HUD: блок под ногами, ближайшая
// полость снизу и ближайший выход вверх. Читаются только y в
// [columnFloorY, columnCeilingY].
func (g *Gateway) AnalyzeColumn(ctx context.Context, pos vec.Vec3) ColumnAnalysis {
	res := ColumnAnalysis{Position: pos}
	res.BlockBelow = g.GetBlockData(ctx, vec.Vec3{X: pos.X, Y: pos.Y - 1, Z: pos.Z}).BlockType

	maxDown := pos.Y - columnFloorY
	for i := max(1, pos.Y-columnCeilingY); i <= maxDown; i++ {
		if ctx.Err() != nil {
			return res
		}
		t := g.GetBlockData(ctx, vec.Vec3{X: pos.X, Y: pos.Y - i, Z: pos.Z}).BlockType
		if _, ok := caveMarkerTypes[t]; ok {
			d := i
			res.DistanceToCave = &d
			break
		}
	}

	maxUp := columnCeilingY - pos.Y
	for j := max(2, columnFloorY-pos.Y); j <= maxUp; j++ {
		if ctx.Err() != nil {
			return res
		}
		t := g.GetBlockData(ctx, vec.Vec3{X: pos.X, Y: pos.Y + j, Z: pos.Z}).BlockType
		if _, ok := caveMarkerTypes[t]; ok {
			d := j
			res.DistanceToSurface = &d
			break
		}
	}
	return res
}
