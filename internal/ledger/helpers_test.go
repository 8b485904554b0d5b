package ledger

import "github.com/annel0/dust-map/internal/vec"

func vecOf(x, y, z int) vec.Vec3 {
	return vec.Vec3{X: x, Y: y, Z: z}
}
