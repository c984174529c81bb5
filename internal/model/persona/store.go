package persona

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrEmptyCatalog is returned when a catalog file holds no personas.
var ErrEmptyCatalog = errors.New("persona catalog is empty")

// Store exposes persona retrieval for HTTP handlers.
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Persona
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied personas.
func NewMemoryStore(items []Persona) *MemoryStore {
	return &MemoryStore{items: append([]Persona(nil), items...)}
}

// List returns the persona list.
func (s *MemoryStore) List() []Persona {
	return append([]Persona(nil), s.items...)
}

// FindByID looks up a persona by identifier.
func (s *MemoryStore) FindByID(id string) (Persona, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Persona{}, false
}

type catalogFile struct {
	Personas []Persona `yaml:"personas"`
}

// LoadFile 从 YAML 文件读取角色目录，缺少 ID 或名字的条目视为错误。
func LoadFile(path string) ([]Persona, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona catalog: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a YAML persona catalog.
func Parse(raw []byte) ([]Persona, error) {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode persona catalog: %w", err)
	}
	if len(file.Personas) == 0 {
		return nil, ErrEmptyCatalog
	}

	seen := make(map[string]struct{}, len(file.Personas))
	for i, p := range file.Personas {
		id := strings.TrimSpace(p.ID)
		if id == "" || strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("persona #%d: id and name are required", i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("persona %q defined twice", id)
		}
		seen[id] = struct{}{}
		file.Personas[i].ID = id
	}
	return file.Personas, nil
}
