// Package nvs is the namespaced key/value persistence used for
// calibration constants. Each namespace is one JSON file under the data
// directory; sessions are scoped and there is at most one writer.
package nvs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// fileMode for namespace files.
const fileMode = 0o644

// Store roots namespaces under a single directory.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore opens (creating if needed) the data directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("nvs: create dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Handle is a scoped read/write session over one namespace.
type Handle struct {
	store     *Store
	path      string
	readOnly  bool
	values    map[string]float64
	persisted bool
}

// Open begins a session over the namespace. Read-only sessions never
// touch the file on close.
func (s *Store) Open(namespace string, readOnly bool) (*Handle, error) {
	s.mu.Lock()

	h := &Handle{
		store:    s,
		path:     filepath.Join(s.dir, namespace+".json"),
		readOnly: readOnly,
		values:   make(map[string]float64),
	}
	data, err := os.ReadFile(h.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Fresh namespace.
	case err != nil:
		s.mu.Unlock()
		return nil, fmt.Errorf("nvs: read namespace %s: %w", namespace, err)
	default:
		if err := json.Unmarshal(data, &h.values); err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("nvs: parse namespace %s: %w", namespace, err)
		}
	}
	return h, nil
}

// Has reports whether key exists.
func (h *Handle) Has(key string) bool {
	_, ok := h.values[key]
	return ok
}

// GetFloat32 reads key; ok is false when absent.
func (h *Handle) GetFloat32(key string) (float32, bool) {
	v, ok := h.values[key]
	return float32(v), ok
}

// PutFloat32 stages key for persistence on Close.
func (h *Handle) PutFloat32(key string, v float32) error {
	if h.readOnly {
		return ErrReadOnly
	}
	h.values[key] = float64(v)
	return nil
}

// Delete removes key.
func (h *Handle) Delete(key string) error {
	if h.readOnly {
		return ErrReadOnly
	}
	delete(h.values, key)
	return nil
}

// Close ends the session, flushing staged writes for writable handles.
func (h *Handle) Close() error {
	defer h.store.mu.Unlock()

	if h.readOnly || h.persisted {
		return nil
	}
	h.persisted = true
	data, err := json.Marshal(h.values)
	if err != nil {
		return fmt.Errorf("nvs: encode: %w", err)
	}
	if err := os.WriteFile(h.path, data, fileMode); err != nil {
		return fmt.Errorf("nvs: write: %w", err)
	}
	return nil
}
