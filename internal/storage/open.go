package storage

import (
	"fmt"

	"github.com/annel0/dust-map/internal/config"
	"github.com/annel0/dust-map/internal/logging"
)

// Open создает хранилище по конфигурации
func Open(cfg *config.StorageConfig) (BlockStore, error) {
	backend := cfg.GetBackend()
	log := logging.GetStorageLogger()

	var (
		store BlockStore
		err   error
	)
	switch backend {
	case "memory":
		store = NewMemoryBlockStore()
	case "badger":
		store, err = NewBadgerBlockStore(cfg.GetPath())
	case "sqlite":
		store, err = NewSQLiteBlockStore(cfg.GetPath())
	case "maria", "mariadb", "mysql":
		store, err = NewMariaBlockStore(cfg.GetDSN())
	case "mongo", "mongodb":
		store, err = NewMongoBlockStore(MongoConfig{
			URI:      cfg.GetMongoURI(),
			Database: cfg.GetMongoDatabase(),
		})
	default:
		return nil, fmt.Errorf("неизвестный бэкенд хранилища: %q", backend)
	}
	if err != nil {
		return nil, err
	}

	if backend == "memory" {
		log.Warn("Хранилище в памяти: данные будут потеряны при перезапуске")
	} else {
		log.Info("Хранилище %s открыто", backend)
	}
	return store, nil
}
