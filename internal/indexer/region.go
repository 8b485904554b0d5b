package indexer

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/annel0/dust-map/internal/storage"
	"github.com/annel0/dust-map/internal/vec"
)

// Region горизонтальный срез мира на одном уровне Y, границы включительно
type Region struct {
	MinX int `json:"minX"`
	MaxX int `json:"maxX"`
	MinZ int `json:"minZ"`
	MaxZ int `json:"maxZ"`
	Y    int `json:"y"`
}

// ChunkRegion срез 16x16 чанка (chunkX, chunkZ) на уровне y
func ChunkRegion(chunkX, chunkZ, y int) Region {
	minX := chunkX * vec.ChunkSize
	minZ := chunkZ * vec.ChunkSize
	return Region{
		MinX: minX,
		MaxX: minX + vec.ChunkSize - 1,
		MinZ: minZ,
		MaxZ: minZ + vec.ChunkSize - 1,
		Y:    y,
	}
}

// AreaRegion квадрат со стороной 2*radius+1 вокруг центра
func AreaRegion(centerX, centerZ, radius, y int) Region {
	return Region{
		MinX: centerX - radius,
		MaxX: centerX + radius,
		MinZ: centerZ - radius,
		MaxZ: centerZ + radius,
		Y:    y,
	}
}

// Validate проверяет порядок границ и то, что число координат помещается в int
func (r Region) Validate() error {
	if r.MinX > r.MaxX || r.MinZ > r.MaxZ {
		return fmt.Errorf("%w: x=[%d,%d] z=[%d,%d]", ErrInvalidRegion, r.MinX, r.MaxX, r.MinZ, r.MaxZ)
	}
	width, okX := span(r.MinX, r.MaxX)
	depth, okZ := span(r.MinZ, r.MaxZ)
	hi, lo := bits.Mul64(width, depth)
	if !okX || !okZ || hi != 0 || lo > math.MaxInt {
		return fmt.Errorf("%w: %s: слишком много координат", ErrInvalidRegion, r)
	}
	return nil
}

// span число целых в [lo, hi] при lo <= hi; false, если оно не помещается в uint64
func span(lo, hi int) (uint64, bool) {
	d := uint64(hi) - uint64(lo)
	if d == math.MaxUint64 {
		return 0, false
	}
	return d + 1, true
}

// Depth число столбцов по Z
func (r Region) Depth() int {
	return r.MaxZ - r.MinZ + 1
}

// Total число координат в срезе; корректно только после Validate
func (r Region) Total() int {
	return (r.MaxX - r.MinX + 1) * r.Depth()
}

// At k-я координата в порядке обхода: X внешний цикл, Z внутренний
func (r Region) At(k int) vec.Vec3 {
	d := r.Depth()
	return vec.Vec3{X: r.MinX + k/d, Y: r.Y, Z: r.MinZ + k%d}
}

// Rect проекция на плоскость X/Z
func (r Region) Rect() storage.Rect {
	return storage.Rect{MinX: r.MinX, MaxX: r.MaxX, MinZ: r.MinZ, MaxZ: r.MaxZ}
}

func (r Region) String() string {
	return fmt.Sprintf("x=[%d,%d] z=[%d,%d] y=%d", r.MinX, r.MaxX, r.MinZ, r.MaxZ, r.Y)
}
