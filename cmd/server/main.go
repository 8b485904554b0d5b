package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/dust-map/internal/api"
	"github.com/annel0/dust-map/internal/app"
	"github.com/annel0/dust-map/internal/config"
	"github.com/annel0/dust-map/internal/logging"
	"github.com/annel0/dust-map/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (по умолчанию DUST_MAP_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	logging.Configure(logging.Options{
		Dir:          cfg.Logging.GetDir(),
		ConsoleLevel: logging.ParseLevel(cfg.Logging.GetConsoleLevel()),
		FileLevel:    logging.ParseLevel(cfg.Logging.GetFileLevel()),
	})
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	logging.Info("🗺️  Запуск индексатора карты DUST...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTelemetry(ctx, &cfg.Telemetry)
	if err != nil {
		logging.Error("❌ Ошибка инициализации трассировки: %v", err)
		os.Exit(1)
	}

	a, err := app.New(cfg)
	if err != nil {
		logging.Error("❌ Ошибка сборки компонентов: %v", err)
		os.Exit(1)
	}

	if err := a.StartBackground(ctx); err != nil {
		logging.Error("❌ Ошибка запуска фоновых подписок: %v", err)
		_ = a.Close()
		os.Exit(1)
	}

	restPort := fmt.Sprintf(":%d", cfg.Server.GetRESTPort())
	server, err := api.NewRestServer(api.Config{
		Port:        restPort,
		World:       a.Gateway,
		Store:       a.Store,
		Indexer:     a.Indexer,
		Invalidator: a.Invalidation,
		Registry:    a.Registry,
		DefaultY:    cfg.Indexing.GetDefaultY(),
	})
	if err != nil {
		logging.Error("❌ Ошибка создания REST API: %v", err)
		_ = a.Close()
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	logging.Info("✅ Сервисы запущены")
	logging.Info("   🌐 REST API: http://localhost%s", restPort)
	logging.Info("   ❤️  Health check: http://localhost%s/health", restPort)
	logging.Info("   📈 Метрики: http://localhost%s/metrics", restPort)

	select {
	case <-ctx.Done():
		logging.Info("📡 Получен сигнал завершения, остановка...")
	case err := <-errCh:
		if err != nil {
			logging.Error("❌ REST API остановился с ошибкой: %v", err)
		}
	}

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки REST API: %v", err)
	}
	if err := a.Close(); err != nil {
		logging.Error("❌ Ошибка закрытия ресурсов: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки трассировки: %v", err)
	}

	logging.Info("👋 Индексатор остановлен")
}
