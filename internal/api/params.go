package api

import (
	"fmt"
	"strconv"

	"github.com/annel0/dust-map/internal/chain"
	"github.com/annel0/dust-map/internal/storage"
	"github.com/annel0/dust-map/internal/world"
	"github.com/gin-gonic/gin"
)

// maxRangeColumns ограничение площади запроса диапазона
const maxRangeColumns = 256 * 256

func parseInt(name, raw string) (int, error) {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("параметр %s: %q не число", name, raw)
	}
	return v, nil
}

// parseCoord целая координата в пределах int32
func parseCoord(name, raw string) (int, error) {
	v, err := parseInt(name, raw)
	if err != nil {
		return 0, err
	}
	if err := chain.CheckCoord(v); err != nil {
		return 0, fmt.Errorf("параметр %s: %w", name, err)
	}
	return v, nil
}

// queryInt обязательный целый параметр запроса
func queryInt(c *gin.Context, name string) (int, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return 0, fmt.Errorf("параметр %s обязателен", name)
	}
	return parseInt(name, raw)
}

// queryIntDefault необязательный целый параметр
func queryIntDefault(c *gin.Context, name string, def int) (int, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return def, nil
	}
	return parseInt(name, raw)
}

// queryCoords читает несколько обязательных координат по порядку
func queryCoords(c *gin.Context, names ...string) ([]int, error) {
	out := make([]int, len(names))
	for i, name := range names {
		v, err := queryInt(c, name)
		if err != nil {
			return nil, err
		}
		if err := chain.CheckCoord(v); err != nil {
			return nil, fmt.Errorf("параметр %s: %w", name, err)
		}
		out[i] = v
	}
	return out, nil
}

// pathCoords читает координаты из параметров пути
func pathCoords(c *gin.Context, names ...string) ([]int, error) {
	out := make([]int, len(names))
	for i, name := range names {
		v, err := parseCoord(name, c.Param(name))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// queryRect прямоугольник minX/maxX/minZ/maxZ с проверкой площади (координаты в int32)
func queryRect(c *gin.Context) (storage.Rect, error) {
	v, err := queryCoords(c, "minX", "maxX", "minZ", "maxZ")
	if err != nil {
		return storage.Rect{}, err
	}
	r := storage.Rect{MinX: v[0], MaxX: v[1], MinZ: v[2], MaxZ: v[3]}
	if r.MinX > r.MaxX || r.MinZ > r.MaxZ {
		return storage.Rect{}, fmt.Errorf("min больше max")
	}
	if cols := (r.MaxX - r.MinX + 1) * (r.MaxZ - r.MinZ + 1); cols > maxRangeColumns {
		return storage.Rect{}, fmt.Errorf("площадь %d больше %d столбцов", cols, maxRangeColumns)
	}
	return r, nil
}

// queryColumnRange диапазон maxY/minY сканирования столбца в пределах высоты мира
func queryColumnRange(c *gin.Context) (int, int, error) {
	maxY, err := queryIntDefault(c, "maxY", world.DefaultGroundMaxY)
	if err != nil {
		return 0, 0, err
	}
	minY, err := queryIntDefault(c, "minY", world.DefaultGroundMinY)
	if err != nil {
		return 0, 0, err
	}
	if err := world.CheckColumnRange(maxY, minY); err != nil {
		return 0, 0, err
	}
	return maxY, minY, nil
}
