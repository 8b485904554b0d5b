package logging

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Компоненты индексатора с собственными логгерами
const (
	ComponentGateway = "gateway"
	ComponentIndexer = "indexer"
	ComponentStorage = "storage"
	ComponentServer  = "server"
)

// LoggerManager реестр логгеров компонентов. Логгер создается при первом
// обращении и живет до CloseAll.
type LoggerManager struct {
	mu      sync.Mutex
	loggers map[string]*Logger
}

var components = &LoggerManager{loggers: make(map[string]*Logger)}

// GetLoggerManager возвращает общий реестр
func GetLoggerManager() *LoggerManager {
	return components
}

// GetLogger возвращает логгер компонента. Ошибка только если не удалось
// открыть файл логов.
func (lm *LoggerManager) GetLogger(component string) (*Logger, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if l, ok := lm.loggers[component]; ok {
		return l, nil
	}
	l, err := NewLogger(component)
	if err != nil {
		return nil, fmt.Errorf("логгер %s: %w", component, err)
	}
	lm.loggers[component] = l
	return l, nil
}

// MustGetLogger как GetLogger, но при ошибке файла отдает логгер только в
// консоль. Он тоже запоминается, чтобы не пытаться открыть файл на каждый вызов.
func (lm *LoggerManager) MustGetLogger(component string) *Logger {
	l, err := lm.GetLogger(component)
	if err == nil {
		return l
	}
	getDefault().Warn("%v, пишем только в консоль", err)

	opts := currentOptions()
	opts.Dir = ""
	l = newConsoleLogger(component, opts)

	lm.mu.Lock()
	defer lm.mu.Unlock()
	if prev, ok := lm.loggers[component]; ok {
		return prev
	}
	lm.loggers[component] = l
	return l
}

// SetLogLevel меняет уровни созданного логгера
func (lm *LoggerManager) SetLogLevel(component string, consoleLevel, fileLevel LogLevel) error {
	lm.mu.Lock()
	l, ok := lm.loggers[component]
	lm.mu.Unlock()
	if !ok {
		return fmt.Errorf("логгер %s не создан", component)
	}
	l.setLevels(consoleLevel, fileLevel)
	return nil
}

// applyLevels переносит уровни на все созданные логгеры
func (lm *LoggerManager) applyLevels(opts Options) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	for _, l := range lm.loggers {
		l.setLevels(opts.ConsoleLevel, opts.FileLevel)
	}
}

// ListComponents имена созданных логгеров по алфавиту
func (lm *LoggerManager) ListComponents() []string {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	names := make([]string, 0, len(lm.loggers))
	for name := range lm.loggers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CloseAll закрывает файлы всех логгеров и очищает реестр
func (lm *LoggerManager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var errs []error
	for name, l := range lm.loggers {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("логгер %s: %w", name, err))
		}
	}
	clear(lm.loggers)
	return errors.Join(errs...)
}

// GetComponentLogger логгер компонента из общего реестра
func GetComponentLogger(component string) *Logger {
	return components.MustGetLogger(component)
}

func GetGatewayLogger() *Logger { return GetComponentLogger(ComponentGateway) }
func GetIndexerLogger() *Logger { return GetComponentLogger(ComponentIndexer) }
func GetStorageLogger() *Logger { return GetComponentLogger(ComponentStorage) }
func GetServerLogger() *Logger  { return GetComponentLogger(ComponentServer) }
