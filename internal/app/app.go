package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/annel0/dust-map/internal/cache"
	"github.com/annel0/dust-map/internal/chain"
	"github.com/annel0/dust-map/internal/config"
	"github.com/annel0/dust-map/internal/eventbus"
	"github.com/annel0/dust-map/internal/indexer"
	"github.com/annel0/dust-map/internal/ledger"
	"github.com/annel0/dust-map/internal/logging"
	"github.com/annel0/dust-map/internal/observability"
	"github.com/annel0/dust-map/internal/storage"
	"github.com/annel0/dust-map/internal/world"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// App собранные компоненты индексатора карты. Общая сборка для сервера и CLI.
type App struct {
	Config   *config.Config
	Registry *prometheus.Registry
	NodeID   string

	Ledger  *ledger.Client
	Gateway *world.Gateway
	Store   storage.BlockStore
	Bus     eventbus.EventBus
	Indexer *indexer.Service

	// Invalidation nil до StartBackground
	Invalidation *cache.BlockInvalidation

	log     *logging.Logger
	closers []func() error
}

// New собирает компоненты по конфигурации. При ошибке уже открытые
// ресурсы закрываются.
func New(cfg *config.Config) (a *App, err error) {
	a = &App{
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
		NodeID:   uuid.NewString(),
		log:      logging.GetComponentLogger("app"),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	worldAddr, err := chain.ParseAddress(cfg.Ledger.GetWorldAddress())
	if err != nil {
		return a, fmt.Errorf("адрес мира: %w", err)
	}

	ledgerMetrics, err := observability.NewLedgerMetrics(a.Registry)
	if err != nil {
		return a, err
	}
	a.Ledger, err = ledger.NewClientFromURLs(cfg.Ledger.GetRPCURL(), cfg.Ledger.GetWSURL(), cfg.Ledger.GetTimeout(),
		ledger.WithCallObserver(ledgerMetrics.ObserveCall))
	if err != nil {
		return a, fmt.Errorf("узел сети: %w", err)
	}
	a.closers = append(a.closers, a.Ledger.Close)

	gwOpts, err := a.gatewayOptions()
	if err != nil {
		return a, err
	}
	a.Gateway = world.NewGateway(a.Ledger, worldAddr, gwOpts...)

	if a.Store, err = storage.Open(&cfg.Storage); err != nil {
		return a, fmt.Errorf("хранилище: %w", err)
	}
	a.closers = append(a.closers, a.Store.Close)

	if a.Bus, err = eventbus.Open(&cfg.EventBus); err != nil {
		return a, fmt.Errorf("шина событий: %w", err)
	}
	a.closers = append(a.closers, a.Bus.Close)

	idxMetrics, err := observability.NewIndexerMetrics(a.Registry)
	if err != nil {
		return a, err
	}
	opts := append(indexer.OptionsFromConfig(cfg),
		indexer.WithEventBus(a.Bus),
		indexer.WithObserver(idxMetrics),
	)
	a.Indexer = indexer.NewService(a.Gateway, a.Store, opts...)

	a.log.Info("Мир %s, хранилище %s, узел %s", worldAddr, cfg.Storage.GetBackend(), a.NodeID)
	return a, nil
}

func (a *App) gatewayOptions() ([]world.GatewayOption, error) {
	cfg := a.Config

	catalog, err := world.LoadObjectTypes(cfg.World.GetObjectTypesFile())
	if err != nil {
		return nil, err
	}
	gwMetrics, err := observability.NewGatewayMetrics(a.Registry)
	if err != nil {
		return nil, err
	}
	opts := []world.GatewayOption{
		world.WithObjectTypes(catalog),
		world.WithObserver(gwMetrics),
		world.WithChunkFetchTimeout(cfg.Indexing.GetFetchTimeout()),
	}

	if size := cfg.Cache.GetDecodeCacheSize(); size > 0 {
		bc, err := world.NewRistrettoBlockCache(size)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { bc.Close(); return nil })
		opts = append(opts, world.WithBlockCache(bc))
	}

	if addr := cfg.Cache.GetRedisAddr(); addr != "" {
		rc, err := cache.NewRedisCache(cache.RedisConfig{Addr: addr, MaxTTL: cfg.Cache.GetRedisTTL()})
		if err != nil {
			return nil, err
		}
		cc, err := cache.NewChunkCache(rc, cfg.Cache.GetRedisTTL())
		if err != nil {
			_ = rc.Close()
			return nil, err
		}
		a.closers = append(a.closers, cc.Close)
		opts = append(opts, world.WithChunkCache(cc))
		a.log.Info("L2 кэш чанков: redis %s", addr)
	}
	return opts, nil
}

// StartBackground запускает слушателей шины и, при заданном NATS,
// обмен инвалидациями между экземплярами. Живет до отмены ctx.
func (a *App) StartBackground(ctx context.Context) error {
	sub, err := eventbus.StartLoggingListener(ctx, a.Bus)
	if err != nil {
		return fmt.Errorf("слушатель событий: %w", err)
	}
	a.closers = append(a.closers, func() error { sub.Unsubscribe(); return nil })

	exporter, err := eventbus.NewMetricsExporter(a.Bus, a.Registry)
	if err != nil {
		return err
	}
	exporter.Start()
	a.closers = append(a.closers, func() error { exporter.Stop(); return nil })

	var inv cache.CacheInvalidator
	if url := a.Config.EventBus.GetURL(); url != "" {
		n, err := cache.NewNATSInvalidator(&cache.InvalidatorConfig{
			NATSURL: url,
			Subject: a.Config.Cache.GetInvalidationSubject(),
		}, a.NodeID)
		if err != nil {
			return fmt.Errorf("инвалидация: %w", err)
		}
		a.closers = append(a.closers, n.Close)
		inv = n
	}
	a.Invalidation = cache.NewBlockInvalidation(a.Gateway, inv)
	return a.Invalidation.Start(ctx)
}

// Close останавливает индексацию и закрывает ресурсы в обратном порядке
func (a *App) Close() error {
	if a.Indexer != nil {
		a.Indexer.StopIndexing()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
