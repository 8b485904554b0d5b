package eventbus

import (
	"github.com/annel0/dust-map/internal/config"
	"github.com/annel0/dust-map/internal/logging"
)

// Open создаёт шину по конфигурации: JetStream при заданном URL, иначе в памяти
func Open(cfg *config.EventBusConfig) (EventBus, error) {
	url := cfg.GetURL()
	if url == "" {
		logging.GetComponentLogger("eventbus").Info("Шина событий в памяти")
		return NewMemoryBus(1024), nil
	}
	return NewJetStreamBus(url, cfg.GetStream(), cfg.GetRetention())
}
