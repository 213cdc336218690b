package registry

import (
	"context"
	"sync"

	"github.com/chainindex/coordinator/internal/registrytypes"
)

// MemRegistry is an in-memory Registry used by the Synchroniser and
// Lifecycle Manager's tests in place of a real PostgresRegistry, following
// the teacher corpus's lightweight in-package test-double style.
type MemRegistry struct {
	mu      sync.RWMutex
	configs map[registrytypes.Identity]registrytypes.IndexerConfig
}

func NewMemRegistry() *MemRegistry {
	return &MemRegistry{configs: make(map[registrytypes.Identity]registrytypes.IndexerConfig)}
}

// Put upserts a config, as if the registry contract had been called.
func (m *MemRegistry) Put(cfg registrytypes.IndexerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.Identity] = cfg
}

// Remove deletes a config outright (a hard delete, not a tombstone).
func (m *MemRegistry) Remove(identity registrytypes.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.configs, identity)
}

func (m *MemRegistry) FetchAll(ctx context.Context) (map[registrytypes.Identity]registrytypes.IndexerConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[registrytypes.Identity]registrytypes.IndexerConfig, len(m.configs))
	for k, v := range m.configs {
		out[k] = v
	}
	return out, nil
}

func (m *MemRegistry) Fetch(ctx context.Context, identity registrytypes.Identity) (registrytypes.IndexerConfig, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[identity]
	return cfg, ok, nil
}
