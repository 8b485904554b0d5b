package world

import "github.com/annel0/dust-map/internal/vec"

// Bounds прямоугольный параллелепипед мира, границы включительно
type Bounds struct {
	Min vec.Vec3 `json:"min"`
	Max vec.Vec3 `json:"max"`
}

// WorldBounds границы игрового мира DUST
var WorldBounds = Bounds{
	Min: vec.Vec3{X: -1536, Y: -64, Z: -3072},
	Max: vec.Vec3{X: 2560, Y: 320, Z: 1024},
}

// Contains проверяет принадлежность точки
func (b Bounds) Contains(v vec.Vec3) bool {
	return v.X >= b.Min.X && v.X <= b.Max.X &&
		v.Y >= b.Min.Y && v.Y <= b.Max.Y &&
		v.Z >= b.Min.Z && v.Z <= b.Max.Z
}

// ContainsRect проверяет горизонтальный прямоугольник на уровне y
func (b Bounds) ContainsRect(minX, maxX, minZ, maxZ, y int) bool {
	return b.Contains(vec.Vec3{X: minX, Y: y, Z: minZ}) &&
		b.Contains(vec.Vec3{X: maxX, Y: y, Z: maxZ})
}

// Clamp прижимает точку к границам
func (b Bounds) Clamp(v vec.Vec3) vec.Vec3 {
	return vec.Vec3{
		X: clamp(v.X, b.Min.X, b.Max.X),
		Y: clamp(v.Y, b.Min.Y, b.Max.Y),
		Z: clamp(v.Z, b.Min.Z, b.Max.Z),
	}
}

// Center центр мира (округление вниз)
func (b Bounds) Center() vec.Vec3 {
	return vec.Vec3{
		X: vec.FloorDiv(b.Min.X+b.Max.X, 2),
		Y: vec.FloorDiv(b.Min.Y+b.Max.Y, 2),
		Z: vec.FloorDiv(b.Min.Z+b.Max.Z, 2),
	}
}

// Size число вокселей по каждой оси
func (b Bounds) Size() vec.Vec3 {
	return vec.Vec3{
		X: b.Max.X - b.Min.X + 1,
		Y: b.Max.Y - b.Min.Y + 1,
		Z: b.Max.Z - b.Min.Z + 1,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
