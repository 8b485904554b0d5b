package eventbus

import (
	"time"

	"github.com/annel0/dust-map/internal/vec"
)

// Типы событий индексатора
const (
	TypeIndexingStarted  = "IndexingStarted"
	TypeIndexingProgress = "IndexingProgress"
	TypeIndexingFinished = "IndexingFinished"
	TypeBlockInvalidated = "BlockInvalidated"
)

// SourceIndexer имя источника событий индексатора
const SourceIndexer = "indexer"

// IndexingProgressEvent снимок прогресса после пакета
type IndexingProgressEvent struct {
	RunID               string    `json:"runId"`
	TotalBlocks         int       `json:"totalBlocks"`
	IndexedBlocks       int       `json:"indexedBlocks"`
	CurrentPosition     vec.Vec3  `json:"currentPosition"`
	StartTime           time.Time `json:"startTime"`
	EstimatedCompletion time.Time `json:"estimatedCompletion"`
}

// IndexingFinishedEvent итог прогона
type IndexingFinishedEvent struct {
	RunID         string        `json:"runId"`
	Outcome       string        `json:"outcome"`
	TotalBlocks   int           `json:"totalBlocks"`
	IndexedBlocks int           `json:"indexedBlocks"`
	Duration      time.Duration `json:"duration"`
	Error         string        `json:"error,omitempty"`
}

// BlockInvalidatedEvent координата сброшена из кеша декодирования
type BlockInvalidatedEvent struct {
	Position vec.Vec3 `json:"position"`
}
