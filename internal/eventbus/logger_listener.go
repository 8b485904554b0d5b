package eventbus

import (
	"context"

	"github.com/annel0/dust-map/internal/logging"
)

// StartLoggingListener подписывается на события индексатора и пишет их в лог.
// Функция неблокирующая; подписка живёт до отмены ctx.
func StartLoggingListener(ctx context.Context, bus EventBus) (Subscription, error) {
	log := logging.GetComponentLogger("eventbus")
	sub, err := bus.Subscribe(ctx, Filter{}, func(ctx context.Context, ev *Envelope) {
		switch ev.EventType {
		case TypeIndexingProgress:
			var p IndexingProgressEvent
			if err := ev.Decode(&p); err != nil {
				log.Warn("Битый IndexingProgress %s: %v", ev.ID, err)
				return
			}
			log.Info("Индексация %s: %d/%d, позиция %s", p.RunID, p.IndexedBlocks, p.TotalBlocks, p.CurrentPosition)
		case TypeIndexingFinished:
			var f IndexingFinishedEvent
			if err := ev.Decode(&f); err != nil {
				log.Warn("Битый IndexingFinished %s: %v", ev.ID, err)
				return
			}
			if f.Error != "" {
				log.Error("Индексация %s завершена (%s): %d/%d за %s: %s", f.RunID, f.Outcome, f.IndexedBlocks, f.TotalBlocks, f.Duration, f.Error)
				return
			}
			log.Info("Индексация %s завершена (%s): %d/%d за %s", f.RunID, f.Outcome, f.IndexedBlocks, f.TotalBlocks, f.Duration)
		default:
			log.Debug("[EventBus] %s %s src=%s prio=%d size=%dB", ev.ID, ev.EventType, ev.Source, ev.Priority, len(ev.Payload))
		}
	})
	if err != nil {
		return nil, err
	}
	log.Info("LoggingListener: подписка на все события активирована")
	return sub, nil
}
