package observability

import (
	"context"
	"strings"
	"time"

	"github.com/annel0/dust-map/internal/config"
	"github.com/annel0/dust-map/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// ShutdownFunc завершает экспорт трасс
type ShutdownFunc func(context.Context) error

// InitTelemetry настраивает OTLP экспортер и устанавливает глобальный TracerProvider.
// Пустой endpoint отключает трассировку: возвращается пустой shutdown.
func InitTelemetry(ctx context.Context, cfg *config.TelemetryConfig) (ShutdownFunc, error) {
	endpoint := cfg.GetEndpoint()
	if endpoint == "" {
		logging.Debug("OpenTelemetry отключен")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := otlptracehttp.New(ctx, exporterOptions(endpoint)...)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(cfg.GetServiceName())),
	)
	if err != nil {
		return nil, err
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exp),
		trace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	logging.Info("OpenTelemetry инициализирован (OTLP -> %s, service=%s)", endpoint, cfg.GetServiceName())

	shutdown := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	}
	return shutdown, nil
}

// exporterOptions разбирает endpoint вида http://host:4318 или host:4318
func exporterOptions(endpoint string) []otlptracehttp.Option {
	var opts []otlptracehttp.Option
	switch {
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = strings.TrimPrefix(endpoint, "http://")
		opts = append(opts, otlptracehttp.WithInsecure())
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = strings.TrimPrefix(endpoint, "https://")
	}
	host, path, found := strings.Cut(endpoint, "/")
	opts = append(opts, otlptracehttp.WithEndpoint(host))
	if found && path != "" {
		opts = append(opts, otlptracehttp.WithURLPath("/"+path))
	}
	return opts
}
