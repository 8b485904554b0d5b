package api

import (
	"errors"
	"net/http"

	"github.com/annel0/dust-map/internal/chain"
	"github.com/annel0/dust-map/internal/storage"
	"github.com/annel0/dust-map/internal/vec"
	"github.com/gin-gonic/gin"
)

// handleBlocksInRange сохраненные блоки прямоугольника на всех Y
func (rs *RestServer) handleBlocksInRange(c *gin.Context) {
	r, err := queryRect(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, "Неверный диапазон", err)
		return
	}
	blocks, err := rs.store.GetBlocksInRange(c.Request.Context(), r)
	if err != nil {
		rs.storeError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Блоки диапазона", gin.H{"range": r, "count": len(blocks), "blocks": blocks})
}

func (rs *RestServer) handleStoredBlock(c *gin.Context) {
	v, err := pathCoords(c, "x", "y", "z")
	if err != nil {
		respondError(c, http.StatusBadRequest, "Неверные координаты", err)
		return
	}
	b, ok, err := rs.store.GetBlock(c.Request.Context(), vec.Vec3{X: v[0], Y: v[1], Z: v[2]})
	if err != nil {
		rs.storeError(c, err)
		return
	}
	if !ok {
		respondError(c, http.StatusNotFound, "Блок не проиндексирован", nil)
		return
	}
	respondOK(c, http.StatusOK, "Блок", b)
}

func (rs *RestServer) handleChunkBlocks(c *gin.Context) {
	v, err := pathCoords(c, "cx", "cy", "cz")
	if err != nil {
		respondError(c, http.StatusBadRequest, "Неверные координаты чанка", err)
		return
	}
	chunk := vec.Vec3{X: v[0], Y: v[1], Z: v[2]}
	blocks, err := rs.store.GetBlocksInChunk(c.Request.Context(), chunk)
	if err != nil {
		rs.storeError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Блоки чанка", gin.H{"chunk": chunk, "count": len(blocks), "blocks": blocks})
}

// handleGroundInRange сохраненные уровни земли
func (rs *RestServer) handleGroundInRange(c *gin.Context) {
	gs, ok := rs.store.(storage.GroundLevelStore)
	if !ok {
		respondError(c, http.StatusNotImplemented, "Хранилище не поддерживает уровни земли", nil)
		return
	}
	r, err := queryRect(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, "Неверный диапазон", err)
		return
	}
	levels, err := gs.GetGroundLevelsInRange(c.Request.Context(), r)
	if err != nil {
		rs.storeError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "Уровни земли", gin.H{"range": r, "count": len(levels), "levels": levels})
}

func (rs *RestServer) storeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrStoreClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, chain.ErrCoordOutOfRange):
		status = http.StatusBadRequest
	}
	respondError(c, status, "Ошибка хранилища", err)
}
