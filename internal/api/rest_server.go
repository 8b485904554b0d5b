package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/annel0/dust-map/internal/indexer"
	"github.com/annel0/dust-map/internal/logging"
	"github.com/annel0/dust-map/internal/middleware"
	"github.com/annel0/dust-map/internal/storage"
	"github.com/annel0/dust-map/internal/vec"
	"github.com/annel0/dust-map/internal/world"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// WorldReader живые чтения мира (world.Gateway)
type WorldReader interface {
	GetBlockData(ctx context.Context, pos vec.Vec3) world.BlockData
	GroundLevel(ctx context.Context, x, z, maxY, minY int) world.GroundLevel
	AnalyzeColumn(ctx context.Context, pos vec.Vec3) world.ColumnAnalysis
	ObjectTypes() *world.ObjectTypeCatalog
	Invalidate(pos vec.Vec3)
	Stats() world.GatewayStats
}

// BlockInvalidator сброс блока с оповещением других экземпляров (cache.BlockInvalidation)
type BlockInvalidator interface {
	Invalidate(ctx context.Context, pos vec.Vec3) error
}

// RestServer REST API карты мира
type RestServer struct {
	router   *gin.Engine
	server   *http.Server
	world    WorldReader
	store    storage.BlockStore
	indexer  *indexer.Service
	invalid  BlockInvalidator
	bounds   world.Bounds
	port     string
	defaultY int
	metrics  *ServerMetrics
	log      *logging.Logger

	// контекст фоновых прогонов, отменяется в Stop
	runCtx    context.Context
	runCancel context.CancelFunc
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port    string             // адрес прослушивания, ":8088"
	World   WorldReader        // живые чтения
	Store   storage.BlockStore // проиндексированные блоки
	Indexer *indexer.Service
	// Invalidator nil - сброс только в локальном кеше World
	Invalidator BlockInvalidator
	// Registry регистр метрик; nil - новый регистр
	Registry *prometheus.Registry
	DefaultY int
}

// NewRestServer создает новый REST API сервер
func NewRestServer(cfg Config) (*RestServer, error) {
	if cfg.World == nil || cfg.Store == nil || cfg.Indexer == nil {
		return nil, errors.New("api: World, Store и Indexer обязательны")
	}
	if cfg.Port == "" {
		cfg.Port = ":8088"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	log := logging.GetServerLogger()
	router.Use(otelgin.Middleware("dust-map-api"))
	router.Use(middleware.NewRequestLogger(log).Handler())

	promMw, err := middleware.NewPrometheusMiddleware("dustmap", cfg.Registry)
	if err != nil {
		return nil, fmt.Errorf("метрики HTTP: %w", err)
	}
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, cfg.Registry)

	runCtx, runCancel := context.WithCancel(context.Background())
	rs := &RestServer{
		router:    router,
		world:     cfg.World,
		store:     cfg.Store,
		indexer:   cfg.Indexer,
		invalid:   cfg.Invalidator,
		bounds:    world.WorldBounds,
		port:      cfg.Port,
		defaultY:  cfg.DefaultY,
		metrics:   NewServerMetrics(),
		log:       log,
		runCtx:    runCtx,
		runCancel: runCancel,
	}
	rs.server = &http.Server{
		Addr:              cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	rs.setupRoutes()
	return rs, nil
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	// CORS для UI карты
	rs.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	rs.router.GET("/health", rs.handleHealth)

	api := rs.router.Group("/api")
	api.GET("/stats", rs.handleStats)
	api.GET("/object-types", rs.handleObjectTypes)

	w := api.Group("/world")
	{
		w.GET("/bounds", rs.handleBounds)
		w.GET("/block", rs.handleLiveBlock)
		w.GET("/ground", rs.handleLiveGround)
		w.GET("/column", rs.handleColumn)
		w.POST("/invalidate", rs.handleInvalidate)
	}

	api.GET("/blocks", rs.handleBlocksInRange)
	api.GET("/blocks/:x/:y/:z", rs.handleStoredBlock)
	api.GET("/chunks/:cx/:cy/:cz/blocks", rs.handleChunkBlocks)
	api.GET("/ground", rs.handleGroundInRange)

	idx := api.Group("/indexing")
	{
		idx.POST("/start", rs.handleIndexingStart)
		idx.POST("/ground", rs.handleGroundStart)
		idx.POST("/stop", rs.handleIndexingStop)
		idx.GET("/progress", rs.handleIndexingProgress)
	}
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func respondOK(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, GenericResponse{Success: true, Message: message, Data: data})
}

func respondError(c *gin.Context, status int, message string, err error) {
	if err != nil {
		_ = c.Error(err)
		message = fmt.Sprintf("%s: %v", message, err)
	}
	c.JSON(status, GenericResponse{Success: false, Message: message})
}

// handleHealth проверка состояния сервера
func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"time":     time.Now().Unix(),
		"indexing": rs.indexer.IsIndexing(),
	})
}

// handleStats статистика хранилища, шлюза, индексации и процесса
func (rs *RestServer) handleStats(c *gin.Context) {
	ctx := c.Request.Context()
	stats, err := rs.store.GetBlockStatistics(ctx)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Статистика хранилища недоступна", err)
		return
	}

	var ground interface{}
	if gs, ok := rs.store.(storage.GroundLevelStore); ok {
		n, err := gs.GetTotalGroundLevels(ctx)
		if err != nil {
			respondError(c, http.StatusInternalServerError, "Статистика уровней земли недоступна", err)
			return
		}
		ground = gin.H{"totalColumns": n}
	}

	outcome, lastErr := rs.indexer.LastOutcome()
	indexing := gin.H{
		"running":     rs.indexer.IsIndexing(),
		"progress":    rs.indexer.GetProgress(),
		"lastOutcome": outcome,
	}
	if lastErr != nil {
		indexing["lastError"] = lastErr.Error()
	}

	respondOK(c, http.StatusOK, "Статистика получена", gin.H{
		"blocks":   stats,
		"ground":   ground,
		"gateway":  rs.world.Stats(),
		"indexing": indexing,
		"server":   rs.metrics.Snapshot(),
	})
}

// Handler http.Handler сервера (тесты, встраивание)
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

// Start запускает REST сервер и блокируется до Stop
func (rs *RestServer) Start() error {
	rs.log.Info("REST API слушает %s", rs.port)
	if err := rs.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop останавливает фоновые прогоны и дожидается завершения запросов
func (rs *RestServer) Stop(ctx context.Context) error {
	rs.indexer.StopIndexing()
	rs.runCancel()
	return rs.server.Shutdown(ctx)
}
