package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации индексатора карты.
// Любое поле может отсутствовать: геттеры применяют порядок config -> env -> default.
type Config struct {
	Ledger    LedgerConfig    `yaml:"ledger"`
	Storage   StorageConfig   `yaml:"storage"`
	Cache     CacheConfig     `yaml:"cache"`
	Indexing  IndexingConfig  `yaml:"indexing"`
	World     WorldConfig     `yaml:"world"`
	Server    ServerConfig    `yaml:"server"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LedgerConfig параметры доступа к узлу сети с данными мира
type LedgerConfig struct {
	RPCURL         string `yaml:"rpc_url"`
	WSURL          string `yaml:"ws_url"`
	WorldAddress   string `yaml:"world_address"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

const (
	DefaultRPCURL       = "https://rpc.redstonechain.com"
	DefaultWorldAddress = "0x253eb85B3C953bFE3827CC14a151262482E7189C"
)

func (l *LedgerConfig) GetRPCURL() string {
	return getStringWithEnvFallback(l.RPCURL, "DUST_RPC_URL", DefaultRPCURL)
}

// GetWSURL возвращает адрес WebSocket; пустая строка отключает WS транспорт
func (l *LedgerConfig) GetWSURL() string {
	return getStringWithEnvFallback(l.WSURL, "DUST_WS_URL", "")
}

func (l *LedgerConfig) GetWorldAddress() string {
	return getStringWithEnvFallback(l.WorldAddress, "DUST_WORLD_ADDRESS", DefaultWorldAddress)
}

func (l *LedgerConfig) GetTimeout() time.Duration {
	return time.Duration(getIntWithEnvFallback(l.TimeoutSeconds, "DUST_RPC_TIMEOUT", 15)) * time.Second
}

// StorageConfig выбор бэкенда хранилища проиндексированных блоков
type StorageConfig struct {
	Backend       string `yaml:"backend"` // memory | badger | sqlite | maria | mongo
	Path          string `yaml:"path"`    // каталог badger или файл sqlite
	DSN           string `yaml:"dsn"`     // MariaDB DSN
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
}

func (s *StorageConfig) GetBackend() string {
	return strings.ToLower(getStringWithEnvFallback(s.Backend, "DUST_STORAGE_BACKEND", "badger"))
}

func (s *StorageConfig) GetPath() string {
	def := "data/blocks"
	if s.GetBackend() == "sqlite" {
		def = "data/map.db"
	}
	return getStringWithEnvFallback(s.Path, "DUST_STORAGE_PATH", def)
}

func (s *StorageConfig) GetDSN() string {
	return getStringWithEnvFallback(s.DSN, "DUST_MARIA_DSN", "dust:dust@tcp(localhost:3306)/dust_map?parseTime=true")
}

func (s *StorageConfig) GetMongoURI() string {
	return getStringWithEnvFallback(s.MongoURI, "DUST_MONGO_URI", "mongodb://localhost:27017")
}

func (s *StorageConfig) GetMongoDatabase() string {
	return getStringWithEnvFallback(s.MongoDatabase, "DUST_MONGO_DB", "dust_map")
}

// CacheConfig параметры кэшей шлюза
type CacheConfig struct {
	// DecodeCacheSize ограничивает кэш декодированных блоков; 0 - неограниченная карта
	DecodeCacheSize     int    `yaml:"decode_cache_size"`
	RedisAddr           string `yaml:"redis_addr"` // пусто - L2 кэш чанков отключен
	RedisTTLMinutes     int    `yaml:"redis_ttl_minutes"`
	InvalidationSubject string `yaml:"invalidation_subject"`
}

func (c *CacheConfig) GetDecodeCacheSize() int {
	return getIntWithEnvFallback(c.DecodeCacheSize, "DUST_DECODE_CACHE_SIZE", 0)
}

func (c *CacheConfig) GetRedisAddr() string {
	return getStringWithEnvFallback(c.RedisAddr, "DUST_REDIS_ADDR", "")
}

func (c *CacheConfig) GetRedisTTL() time.Duration {
	return time.Duration(getIntWithEnvFallback(c.RedisTTLMinutes, "DUST_REDIS_TTL_MINUTES", 24*60)) * time.Minute
}

func (c *CacheConfig) GetInvalidationSubject() string {
	return getStringWithEnvFallback(c.InvalidationSubject, "DUST_INVALIDATION_SUBJECT", "dust.cache.invalidate")
}

// IndexingConfig параметры прогона индексации
type IndexingConfig struct {
	BatchSize           int  `yaml:"batch_size"`
	BatchPauseMs        int  `yaml:"batch_pause_ms"`
	FetchTimeoutSeconds int  `yaml:"fetch_timeout_seconds"`
	DefaultY            *int `yaml:"default_y"`
}

func (i *IndexingConfig) GetBatchSize() int {
	return getIntWithEnvFallback(i.BatchSize, "DUST_BATCH_SIZE", 50)
}

func (i *IndexingConfig) GetBatchPause() time.Duration {
	return time.Duration(getIntWithEnvFallback(i.BatchPauseMs, "DUST_BATCH_PAUSE_MS", 50)) * time.Millisecond
}

func (i *IndexingConfig) GetFetchTimeout() time.Duration {
	return time.Duration(getIntWithEnvFallback(i.FetchTimeoutSeconds, "DUST_FETCH_TIMEOUT", 30)) * time.Second
}

// GetDefaultY уровень Y по умолчанию; 0 допустим, поэтому поле - указатель
func (i *IndexingConfig) GetDefaultY() int {
	if i.DefaultY != nil {
		return *i.DefaultY
	}
	if envVal := os.Getenv("DUST_DEFAULT_Y"); envVal != "" {
		if y, err := strconv.Atoi(envVal); err == nil {
			return y
		}
	}
	return 64
}

// WorldConfig параметры мира
type WorldConfig struct {
	EnforceBounds   *bool  `yaml:"enforce_bounds"`
	ObjectTypesFile string `yaml:"object_types_file"`
}

// GetEnforceBounds по умолчанию границы мира проверяются
func (w *WorldConfig) GetEnforceBounds() bool {
	if w.EnforceBounds != nil {
		return *w.EnforceBounds
	}
	if envVal := os.Getenv("DUST_ENFORCE_BOUNDS"); envVal != "" {
		if b, err := strconv.ParseBool(envVal); err == nil {
			return b
		}
	}
	return true
}

func (w *WorldConfig) GetObjectTypesFile() string {
	return getStringWithEnvFallback(w.ObjectTypesFile, "DUST_OBJECT_TYPES", "")
}

type ServerConfig struct {
	RESTPort int `yaml:"rest_port"`
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getIntWithEnvFallback(s.RESTPort, "DUST_REST_PORT", 8088)
}

// EventBusConfig параметры шины событий. Пустой URL - шина в памяти.
type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

func (e *EventBusConfig) GetURL() string {
	return getStringWithEnvFallback(e.URL, "DUST_NATS_URL", "")
}

func (e *EventBusConfig) GetStream() string {
	return getStringWithEnvFallback(e.Stream, "DUST_NATS_STREAM", "DUST_MAP")
}

func (e *EventBusConfig) GetRetention() time.Duration {
	return time.Duration(getIntWithEnvFallback(e.Retention, "DUST_NATS_RETENTION_HOURS", 24)) * time.Hour
}

type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint"` // пусто - трассировка отключена
	ServiceName string `yaml:"service_name"`
}

func (t *TelemetryConfig) GetEndpoint() string {
	return getStringWithEnvFallback(t.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT", "")
}

func (t *TelemetryConfig) GetServiceName() string {
	return getStringWithEnvFallback(t.ServiceName, "OTEL_SERVICE_NAME", "dust-map")
}

type LoggingConfig struct {
	Dir          string `yaml:"dir"`
	ConsoleLevel string `yaml:"console_level"`
	FileLevel    string `yaml:"file_level"`
}

func (l *LoggingConfig) GetDir() string {
	return getStringWithEnvFallback(l.Dir, "DUST_LOG_DIR", "logs")
}

func (l *LoggingConfig) GetConsoleLevel() string {
	return getStringWithEnvFallback(l.ConsoleLevel, "DUST_LOG_LEVEL", "INFO")
}

func (l *LoggingConfig) GetFileLevel() string {
	return getStringWithEnvFallback(l.FileLevel, "DUST_LOG_FILE_LEVEL", "DEBUG")
}

// getIntWithEnvFallback возвращает значение с приоритетом: config -> env -> default
func getIntWithEnvFallback(configVal int, envVar string, defaultVal int) int {
	if configVal > 0 {
		return configVal
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if v, err := strconv.Atoi(envVal); err == nil && v > 0 {
			return v
		}
	}

	return defaultVal
}

// getStringWithEnvFallback то же для строк
func getStringWithEnvFallback(configVal, envVar, defaultVal string) string {
	if configVal != "" {
		return configVal
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		return envVal
	}
	return defaultVal
}

// Load читает YAML файл конфигурации.
// Если path == "", берет путь из ENV DUST_MAP_CONFIG; если и он пуст,
// возвращает пустой Config (все значения из env и дефолтов).
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("DUST_MAP_CONFIG")
		if path == "" {
			return &Config{}, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение конфигурации %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("разбор конфигурации %s: %w", path, err)
	}

	return &cfg, nil
}
