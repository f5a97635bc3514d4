package assembler

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrContextMapNotFound is returned when a store has no document for a project.
var ErrContextMapNotFound = errors.New("context map not found")

// Store is the persistence abstraction for Context Map documents.
// Implementations can be in-memory, file-based, or remote.
type Store interface {
	Get(projectID string) (*ContextMap, error)
	Put(cm *ContextMap) error
}

// InMemoryStore is a concurrency-safe in-memory implementation of Store.
type InMemoryStore struct {
	mu   sync.RWMutex
	maps map[string]*ContextMap
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{maps: make(map[string]*ContextMap)}
}

// Get implements Store.Get. The returned document is a copy.
func (s *InMemoryStore) Get(projectID string) (*ContextMap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cm, ok := s.maps[projectID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContextMapNotFound, projectID)
	}
	return cloneContextMap(cm), nil
}

// Put implements Store.Put.
func (s *InMemoryStore) Put(cm *ContextMap) error {
	if err := validProjectID(cm.ProjectID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maps[cm.ProjectID] = cloneContextMap(cm)
	return nil
}

// DirStore keeps one <project_id>.json document per project in a directory.
type DirStore struct {
	dir string
	mu  sync.Mutex
}

// NewDirStore returns a store rooted at dir, creating it if needed.
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DirStore{dir: dir}, nil
}

// Get implements Store.Get.
func (s *DirStore) Get(projectID string) (*ContextMap, error) {
	if err := validProjectID(projectID); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.path(projectID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrContextMapNotFound, projectID)
	}
	if err != nil {
		return nil, err
	}
	return DecodeContextMap(b)
}

// Put implements Store.Put. The document is written to a temporary file and
// renamed into place.
func (s *DirStore) Put(cm *ContextMap) error {
	if err := validProjectID(cm.ProjectID); err != nil {
		return err
	}
	b, err := json.MarshalIndent(cm, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tmp, err := os.CreateTemp(s.dir, cm.ProjectID+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path(cm.ProjectID))
}

func (s *DirStore) path(projectID string) string {
	return filepath.Join(s.dir, projectID+".json")
}

// DecodeContextMap parses a Context Map JSON document.
func DecodeContextMap(b []byte) (*ContextMap, error) {
	var cm ContextMap
	if err := json.Unmarshal(b, &cm); err != nil {
		return nil, fmt.Errorf("decode context map: %w", err)
	}
	return &cm, nil
}

// LoadContextMapFile reads a Context Map document from path.
func LoadContextMapFile(path string) (*ContextMap, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeContextMap(b)
}

func validProjectID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid project id %q", id)
	}
	return nil
}

func cloneContextMap(cm *ContextMap) *ContextMap {
	c := *cm
	c.Segments = append([]Segment(nil), cm.Segments...)
	return &c
}
