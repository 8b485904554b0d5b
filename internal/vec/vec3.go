package vec

import "fmt"

// ChunkSize длина ребра чанка в вокселях.
const ChunkSize = 16

// ChunkVolume количество вокселей в одном чанке (16*16*16).
const ChunkVolume = ChunkSize * ChunkSize * ChunkSize

// Vec3 представляет трехмерный вектор с целочисленными координатами.
// Используется как ключ карты (сравнение по значению).
type Vec3 struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// String возвращает координаты в виде "(x,y,z)"
func (v Vec3) String() string {
	return fmt.Sprintf("(%d,%d,%d)", v.X, v.Y, v.Z)
}

// Add складывает два вектора
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{
		X: v.X + other.X,
		Y: v.Y + other.Y,
		Z: v.Z + other.Z,
	}
}

// Equals проверяет равенство векторов
func (v Vec3) Equals(other Vec3) bool {
	return v.X == other.X && v.Y == other.Y && v.Z == other.Z
}

// ToChunk возвращает координаты чанка, содержащего воксель.
// Деление с округлением вниз: (-1,-1,-1) лежит в чанке (-1,-1,-1), а не (0,0,0).
func (v Vec3) ToChunk() Vec3 {
	return Vec3{
		X: FloorDiv(v.X, ChunkSize),
		Y: FloorDiv(v.Y, ChunkSize),
		Z: FloorDiv(v.Z, ChunkSize),
	}
}

// LocalInChunk возвращает координаты вокселя относительно начала его чанка, каждая в [0,16).
func (v Vec3) LocalInChunk() Vec3 {
	return Vec3{
		X: Mod(v.X, ChunkSize),
		Y: Mod(v.Y, ChunkSize),
		Z: Mod(v.Z, ChunkSize),
	}
}

// IndexInChunk возвращает линейный индекс вокселя внутри чанка: x*256 + y*16 + z.
// Результат всегда в [0, 4096), в том числе для отрицательных координат.
func (v Vec3) IndexInChunk() int {
	l := v.LocalInChunk()
	return l.X*ChunkSize*ChunkSize + l.Y*ChunkSize + l.Z
}

// ChunkOrigin возвращает мировые координаты минимального угла чанка c.
func ChunkOrigin(c Vec3) Vec3 {
	return Vec3{X: c.X * ChunkSize, Y: c.Y * ChunkSize, Z: c.Z * ChunkSize}
}

// FloorDiv делит a на b с округлением к минус бесконечности.
// Паникует при b == 0, как и встроенное деление.
func FloorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Mod возвращает математический остаток a mod b со знаком делителя.
func Mod(a, b int) int {
	m := a % b
	if m != 0 && ((m < 0) != (b < 0)) {
		m += b
	}
	return m
}
