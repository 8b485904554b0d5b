package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dustmap"

// register регистрирует коллекторы; reg == nil пропускает регистрацию
func register(reg prometheus.Registerer, cs ...prometheus.Collector) error {
	if reg == nil {
		return nil
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// GatewayMetrics метрики шлюза данных мира
type GatewayMetrics struct {
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
	fetches     *prometheus.CounterVec
	fetchTime   prometheus.Histogram
	errors      *prometheus.CounterVec
}

func NewGatewayMetrics(reg prometheus.Registerer) (*GatewayMetrics, error) {
	m := &GatewayMetrics{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "cache_hits_total",
			Help:      "Попадания в кеш декодированных блоков.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "cache_misses_total",
			Help:      "Промахи кеша декодированных блоков.",
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "chunk_fetches_total",
			Help:      "Загрузки блобов чанков по результату.",
		}, []string{"result"}),
		fetchTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "chunk_fetch_duration_seconds",
			Help:      "Длительность загрузки блоба чанка.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "fetch_errors_total",
			Help:      "Ошибки чтения по этапу.",
		}, []string{"stage"}),
	}
	if err := register(reg, m.cacheHits, m.cacheMisses, m.fetches, m.fetchTime, m.errors); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *GatewayMetrics) ObserveCacheHit()  { m.cacheHits.Inc() }
func (m *GatewayMetrics) ObserveCacheMiss() { m.cacheMisses.Inc() }

func (m *GatewayMetrics) ObserveChunkFetch(empty bool, took time.Duration) {
	result := "data"
	if empty {
		result = "empty"
	}
	m.fetches.WithLabelValues(result).Inc()
	m.fetchTime.Observe(took.Seconds())
}

func (m *GatewayMetrics) ObserveFetchError(stage string) {
	m.errors.WithLabelValues(stage).Inc()
}

// IndexerMetrics метрики службы индексации
type IndexerMetrics struct {
	runs      *prometheus.CounterVec
	indexed   prometheus.Counter
	batchTime prometheus.Histogram
	running   prometheus.Gauge
}

func NewIndexerMetrics(reg prometheus.Registerer) (*IndexerMetrics, error) {
	m := &IndexerMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "runs_total",
			Help:      "Завершенные прогоны индексации по исходу.",
		}, []string{"outcome"}),
		indexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "blocks_indexed_total",
			Help:      "Записанные в хранилище блоки.",
		}),
		batchTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "batch_duration_seconds",
			Help:      "Длительность обработки пакета.",
			Buckets:   prometheus.DefBuckets,
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "running",
			Help:      "1 пока идет прогон индексации.",
		}),
	}
	if err := register(reg, m.runs, m.indexed, m.batchTime, m.running); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *IndexerMetrics) ObserveBatch(blocks int, took time.Duration) {
	m.indexed.Add(float64(blocks))
	m.batchTime.Observe(took.Seconds())
}

func (m *IndexerMetrics) ObserveRunStarted() { m.running.Set(1) }

func (m *IndexerMetrics) ObserveRunFinished(outcome string) {
	m.running.Set(0)
	m.runs.WithLabelValues(outcome).Inc()
}

// LedgerMetrics метрики RPC вызовов к узлу
type LedgerMetrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewLedgerMetrics(reg prometheus.Registerer) (*LedgerMetrics, error) {
	m := &LedgerMetrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "calls_total",
			Help:      "RPC вызовы по методу и результату.",
		}, []string{"method", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "call_duration_seconds",
			Help:      "Длительность RPC вызова.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		}, []string{"method"}),
	}
	if err := register(reg, m.calls, m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

// ObserveCall подходит как ledger.CallObserver
func (m *LedgerMetrics) ObserveCall(method string, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.calls.WithLabelValues(method, result).Inc()
	m.duration.WithLabelValues(method).Observe(took.Seconds())
}
