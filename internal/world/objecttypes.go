package world

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Встроенные ObjectType мира
const (
	ObjectTypeNull  uint16 = 0
	ObjectTypeAir   uint16 = 1
	ObjectTypeWater uint16 = 2
)

// ObjectType описание типа объекта для карты и поиска земли
type ObjectType struct {
	ID          uint16 `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	PassThrough bool   `yaml:"pass_through" json:"passThrough"`
	Color       string `yaml:"color" json:"color,omitempty"`
}

// ObjectTypeCatalog потокобезопасный справочник типов
type ObjectTypeCatalog struct {
	mu    sync.RWMutex
	types map[uint16]ObjectType
}

// DefaultCatalog справочник только со встроенными типами
func DefaultCatalog() *ObjectTypeCatalog {
	c := &ObjectTypeCatalog{types: make(map[uint16]ObjectType)}
	c.Merge([]ObjectType{
		{ID: ObjectTypeNull, Name: "Null", PassThrough: true, Color: "#000000"},
		{ID: ObjectTypeAir, Name: "Air", PassThrough: true, Color: "#87ceeb"},
		{ID: ObjectTypeWater, Name: "Water", PassThrough: true, Color: "#1e90ff"},
	})
	return c
}

type catalogFile struct {
	ObjectTypes []ObjectType `yaml:"object_types"`
}

// LoadObjectTypes читает YAML файл и дополняет им встроенный справочник.
// Записи файла заменяют встроенные с тем же id.
func LoadObjectTypes(path string) (*ObjectTypeCatalog, error) {
	c := DefaultCatalog()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("object types %s: %w", path, err)
	}

	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("object types %s: %w", path, err)
	}
	c.Merge(f.ObjectTypes)
	return c, nil
}

// Merge добавляет или заменяет типы
func (c *ObjectTypeCatalog) Merge(types []ObjectType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range types {
		c.types[t.ID] = t
	}
}

// Lookup возвращает описание типа
func (c *ObjectTypeCatalog) Lookup(id uint16) (ObjectType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.types[id]
	return t, ok
}

// IsPassThrough неизвестные типы считаются твердыми
func (c *ObjectTypeCatalog) IsPassThrough(id uint16) bool {
	t, ok := c.Lookup(id)
	return ok && t.PassThrough
}

// All возвращает типы, отсортированные по id
func (c *ObjectTypeCatalog) All() []ObjectType {
	c.mu.RLock()
	out := make([]ObjectType, 0, len(c.types))
	for _, t := range c.types {
		out = append(out, t)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *ObjectTypeCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.types)
}
