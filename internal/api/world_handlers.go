package api

import (
	"net/http"

	"github.com/annel0/dust-map/internal/vec"
	"github.com/annel0/dust-map/internal/world"
	"github.com/gin-gonic/gin"
)

// BlockView блок с именем типа из справочника
type BlockView struct {
	Position  vec.Vec3 `json:"position"`
	BlockType uint16   `json:"blockType"`
	Biome     uint8    `json:"biome"`
	TypeName  string   `json:"typeName,omitempty"`
}

func (rs *RestServer) blockView(pos vec.Vec3, data world.BlockData) BlockView {
	v := BlockView{Position: pos, BlockType: data.BlockType, Biome: data.Biome}
	if ot, ok := rs.world.ObjectTypes().Lookup(data.BlockType); ok {
		v.TypeName = ot.Name
	}
	return v
}

func (rs *RestServer) handleBounds(c *gin.Context) {
	respondOK(c, http.StatusOK, "Границы мира", gin.H{
		"bounds": rs.bounds,
		"center": rs.bounds.Center(),
		"size":   rs.bounds.Size(),
	})
}

func (rs *RestServer) handleObjectTypes(c *gin.Context) {
	respondOK(c, http.StatusOK, "Типы объектов", rs.world.ObjectTypes().All())
}

// handleLiveBlock читает блок через шлюз (кеш, переопределение, чанк)
func (rs *RestServer) handleLiveBlock(c *gin.Context) {
	v, err := queryCoords(c, "x", "y", "z")
	if err != nil {
		respondError(c, http.StatusBadRequest, "Неверные координаты", err)
		return
	}
	pos := vec.Vec3{X: v[0], Y: v[1], Z: v[2]}
	data := rs.world.GetBlockData(c.Request.Context(), pos)
	respondOK(c, http.StatusOK, "Блок", rs.blockView(pos, data))
}

func (rs *RestServer) handleLiveGround(c *gin.Context) {
	v, err := queryCoords(c, "x", "z")
	if err != nil {
		respondError(c, http.StatusBadRequest, "Неверные координаты", err)
		return
	}
	maxY, minY, err := queryColumnRange(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, "Неверный диапазон Y", err)
		return
	}
	gl := rs.world.GroundLevel(c.Request.Context(), v[0], v[1], maxY, minY)
	respondOK(c, http.StatusOK, "Уровень земли", gl)
}

func (rs *RestServer) handleColumn(c *gin.Context) {
	v, err := queryCoords(c, "x", "y", "z")
	if err != nil {
		respondError(c, http.StatusBadRequest, "Неверные координаты", err)
		return
	}
	if err := world.CheckColumnY(v[1]); err != nil {
		respondError(c, http.StatusBadRequest, "Неверная высота", err)
		return
	}
	res := rs.world.AnalyzeColumn(c.Request.Context(), vec.Vec3{X: v[0], Y: v[1], Z: v[2]})
	respondOK(c, http.StatusOK, "Анализ столбца", res)
}

// InvalidateRequest координата измененного блока
type InvalidateRequest struct {
	X *int `json:"x" binding:"required"`
	Y *int `json:"y" binding:"required"`
	Z *int `json:"z" binding:"required"`
}

// handleInvalidate сбрасывает блок из кеша декодирования; сохраненная
// запись остается до повторной индексации
func (rs *RestServer) handleInvalidate(c *gin.Context) {
	var req InvalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Неверный формат запроса", err)
		return
	}
	pos := vec.Vec3{X: *req.X, Y: *req.Y, Z: *req.Z}

	if rs.invalid == nil {
		rs.world.Invalidate(pos)
	} else if err := rs.invalid.Invalidate(c.Request.Context(), pos); err != nil {
		// локальный сброс уже выполнен, не удалось только оповещение
		rs.log.Warn("Оповещение о сбросе %s не отправлено: %v", pos, err)
		respondOK(c, http.StatusAccepted, "Сброшено локально, оповещение не отправлено", gin.H{"position": pos})
		return
	}
	respondOK(c, http.StatusOK, "Блок сброшен из кеша", gin.H{"position": pos})
}
