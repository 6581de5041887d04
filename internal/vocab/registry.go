package vocab

import (
	"context"
	"os"
	"path/filepath"
	"sync"
)

// Registry hands out one Manager per collection, opened lazily from
// <dir>/<collection>.db and shared by indexing and querying.
type Registry struct {
	mu          sync.Mutex
	dir         string
	fingerprint string
	managers    map[string]*Manager
}

// NewRegistry creates a registry rooted at dir. An empty dir keeps every
// vocabulary in memory (tests).
func NewRegistry(dir, fingerprint string) *Registry {
	return &Registry{
		dir:         dir,
		fingerprint: fingerprint,
		managers:    make(map[string]*Manager),
	}
}

// Get returns the vocabulary for collection, opening it on first use.
func (r *Registry) Get(ctx context.Context, collection string) (*Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.managers[collection]; ok {
		return m, nil
	}
	m, err := Open(ctx, r.pathFor(collection), r.fingerprint)
	if err != nil {
		return nil, err
	}
	r.managers[collection] = m
	return m, nil
}

// Drop closes and deletes the vocabulary of collection. Used when a
// repository is removed; ids would otherwise outlive every vector using them.
func (r *Registry) Drop(collection string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.managers[collection]; ok {
		_ = m.Close()
		delete(r.managers, collection)
	}
	path := r.pathFor(collection)
	if path == "" {
		return nil
	}
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Close closes every open vocabulary.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, m := range r.managers {
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.managers, name)
	}
	return firstErr
}

func (r *Registry) pathFor(collection string) string {
	if r.dir == "" {
		return ""
	}
	return filepath.Join(r.dir, collection+".db")
}
