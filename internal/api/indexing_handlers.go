package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/annel0/dust-map/internal/chain"
	"github.com/annel0/dust-map/internal/indexer"
	"github.com/annel0/dust-map/internal/storage"
	"github.com/annel0/dust-map/internal/world"
	"github.com/gin-gonic/gin"
)

// StartIndexingRequest задает срез одним из способов:
// centerX/centerZ/radius, chunkX/chunkZ или minX/maxX/minZ/maxZ.
type StartIndexingRequest struct {
	CenterX *int `json:"centerX"`
	CenterZ *int `json:"centerZ"`
	Radius  *int `json:"radius"`

	ChunkX *int `json:"chunkX"`
	ChunkZ *int `json:"chunkZ"`

	MinX *int `json:"minX"`
	MaxX *int `json:"maxX"`
	MinZ *int `json:"minZ"`
	MaxZ *int `json:"maxZ"`

	Y *int `json:"y"`
}

func allSet(vals ...*int) bool {
	for _, v := range vals {
		if v == nil {
			return false
		}
	}
	return true
}

// Region переводит запрос в срез; Y по умолчанию defaultY
func (r StartIndexingRequest) Region(defaultY int) (indexer.Region, error) {
	y := defaultY
	if r.Y != nil {
		y = *r.Y
	}
	switch {
	case r.Radius != nil:
		if !allSet(r.CenterX, r.CenterZ) {
			return indexer.Region{}, errors.New("для radius нужны centerX и centerZ")
		}
		if *r.Radius < 0 {
			return indexer.Region{}, fmt.Errorf("radius %d < 0", *r.Radius)
		}
		return indexer.AreaRegion(*r.CenterX, *r.CenterZ, *r.Radius, y), nil
	case allSet(r.ChunkX, r.ChunkZ):
		return indexer.ChunkRegion(*r.ChunkX, *r.ChunkZ, y), nil
	case allSet(r.MinX, r.MaxX, r.MinZ, r.MaxZ):
		return indexer.Region{MinX: *r.MinX, MaxX: *r.MaxX, MinZ: *r.MinZ, MaxZ: *r.MaxZ, Y: y}, nil
	default:
		return indexer.Region{}, errors.New("нужен radius, chunkX/chunkZ или minX/maxX/minZ/maxZ")
	}
}

// GroundIndexingRequest прямоугольник для поиска земли
type GroundIndexingRequest struct {
	MinX *int `json:"minX" binding:"required"`
	MaxX *int `json:"maxX" binding:"required"`
	MinZ *int `json:"minZ" binding:"required"`
	MaxZ *int `json:"maxZ" binding:"required"`
	MaxY *int `json:"maxY"`
	MinY *int `json:"minY"`
}

// indexerStatus HTTP статус для ошибки запуска прогона
func indexerStatus(err error) int {
	switch {
	case errors.Is(err, indexer.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, indexer.ErrGroundUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, indexer.ErrOutOfBounds),
		errors.Is(err, indexer.ErrInvalidRegion),
		errors.Is(err, chain.ErrCoordOutOfRange),
		errors.Is(err, world.ErrColumnRange):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// awaitRun дожидается фонового прогона и пишет итог в лог
func (rs *RestServer) awaitRun(kind string, done <-chan error) {
	if err := <-done; err != nil {
		rs.log.Error("Фоновый прогон %s завершился ошибкой: %v", kind, err)
	}
}

func (rs *RestServer) handleIndexingStart(c *gin.Context) {
	var req StartIndexingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Неверный формат запроса", err)
		return
	}
	region, err := req.Region(rs.defaultY)
	if err != nil {
		respondError(c, http.StatusBadRequest, "Неверный срез", err)
		return
	}

	done, err := rs.indexer.StartIndexingAsync(rs.runCtx, region, nil)
	if err != nil {
		respondError(c, indexerStatus(err), "Индексация не запущена", err)
		return
	}
	go rs.awaitRun(indexer.KindBlocks, done)

	respondOK(c, http.StatusAccepted, "Индексация запущена", gin.H{
		"region":   region,
		"progress": rs.indexer.GetProgress(),
	})
}

func (rs *RestServer) handleGroundStart(c *gin.Context) {
	var req GroundIndexingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Неверный формат запроса", err)
		return
	}
	maxY, minY := world.DefaultGroundMaxY, world.DefaultGroundMinY
	if req.MaxY != nil {
		maxY = *req.MaxY
	}
	if req.MinY != nil {
		minY = *req.MinY
	}
	if err := world.CheckColumnRange(maxY, minY); err != nil {
		respondError(c, http.StatusBadRequest, "Неверный диапазон Y", err)
		return
	}
	rect := storage.Rect{MinX: *req.MinX, MaxX: *req.MaxX, MinZ: *req.MinZ, MaxZ: *req.MaxZ}

	done, err := rs.indexer.IndexGroundLevelsAsync(rs.runCtx, rect, maxY, minY, nil)
	if err != nil {
		respondError(c, indexerStatus(err), "Поиск земли не запущен", err)
		return
	}
	go rs.awaitRun(indexer.KindGround, done)

	respondOK(c, http.StatusAccepted, "Поиск земли запущен", gin.H{
		"range":    rect,
		"maxY":     maxY,
		"minY":     minY,
		"progress": rs.indexer.GetProgress(),
	})
}

func (rs *RestServer) handleIndexingStop(c *gin.Context) {
	if !rs.indexer.StopIndexing() {
		respondOK(c, http.StatusOK, "Индексация не запущена", gin.H{"stopping": false})
		return
	}
	respondOK(c, http.StatusAccepted, "Индексация остановится после текущего пакета", gin.H{"stopping": true})
}

// ProgressResponse состояние индексатора для опроса UI
type ProgressResponse struct {
	Running     bool             `json:"running"`
	Progress    indexer.Progress `json:"progress"`
	LastOutcome indexer.Outcome  `json:"lastOutcome,omitempty"`
	LastError   string           `json:"lastError,omitempty"`
}

func (rs *RestServer) handleIndexingProgress(c *gin.Context) {
	outcome, lastErr := rs.indexer.LastOutcome()
	resp := ProgressResponse{
		Running:     rs.indexer.IsIndexing(),
		Progress:    rs.indexer.GetProgress(),
		LastOutcome: outcome,
	}
	if lastErr != nil {
		resp.LastError = lastErr.Error()
	}
	respondOK(c, http.StatusOK, "Прогресс индексации", resp)
}
