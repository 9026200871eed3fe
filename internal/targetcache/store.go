// Package targetcache stores the computed target-computer set per deployment
// in a fast key-value store. The cache is rebuildable from authoritative
// state and is never treated as a system of record.
package targetcache

import (
	"context"
	"sort"
	"sync"
)

// Store persists one set of computer ids per deployment id with atomic
// replace semantics.
type Store interface {
	// Replace swaps the cached set for the deployment in one step. An empty
	// slice clears the entry.
	Replace(ctx context.Context, deploymentID string, computerIDs []string) error
	// Get returns the last stored set, sorted, or an empty slice when the
	// deployment has never been built. It never recomputes.
	Get(ctx context.Context, deploymentID string) ([]string, error)
	// Delete removes the cached set for a withdrawn deployment.
	Delete(ctx context.Context, deploymentID string) error
	// Close releases underlying connections.
	Close()
}

type memoryStore struct {
	mu   sync.RWMutex
	sets map[string][]string
}

// NewMemoryStore returns an in-process Store for single-node deployments.
func NewMemoryStore() Store {
	return &memoryStore{sets: make(map[string][]string)}
}

func (m *memoryStore) Replace(ctx context.Context, deploymentID string, computerIDs []string) error {
	ids := append([]string(nil), computerIDs...)
	sort.Strings(ids)

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(ids) == 0 {
		delete(m.sets, deploymentID)
		return nil
	}
	m.sets[deploymentID] = ids
	return nil
}

func (m *memoryStore) Get(ctx context.Context, deploymentID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.sets[deploymentID]...), nil
}

func (m *memoryStore) Delete(ctx context.Context, deploymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sets, deploymentID)
	return nil
}

func (m *memoryStore) Close() {}
