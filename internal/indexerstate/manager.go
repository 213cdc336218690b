package indexerstate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chainindex/coordinator/internal/registrytypes"
	"github.com/chainindex/coordinator/internal/store"
)

// Manager persists and retrieves IndexerState, keyed by identity, backed by
// the Stream/State Store under store.Keys.State(), grounded on
// indexer_state.rs's IndexerStateManagerImpl.
type Manager struct {
	store store.Store
}

func NewManager(st store.Store) (*Manager, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	return &Manager{store: st}, nil
}

// Get returns identity's current state, or a freshly initialized one with
// ok=false if none has ever been persisted.
func (m *Manager) Get(ctx context.Context, identity registrytypes.Identity) (*IndexerState, bool, error) {
	key := store.NewKeys(identity.AccountID, identity.FunctionName).State()
	raw, ok, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("read state for %s: %w", identity.FullName(), err)
	}
	if !ok {
		return New(identity), false, nil
	}

	var s IndexerState
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, false, fmt.Errorf("decode state for %s: %w", identity.FullName(), err)
	}
	s.Identity = identity
	return &s, true, nil
}

// Set persists identity's state, overwriting whatever was there.
func (m *Manager) Set(ctx context.Context, identity registrytypes.Identity, s *IndexerState) error {
	key := store.NewKeys(identity.AccountID, identity.FunctionName).State()
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode state for %s: %w", identity.FullName(), err)
	}
	if err := m.store.Set(ctx, key, string(raw), 0); err != nil {
		return fmt.Errorf("write state for %s: %w", identity.FullName(), err)
	}
	return nil
}

// Delete removes identity's persisted state entirely, used once the
// Lifecycle Manager reaches Deleted.
func (m *Manager) Delete(ctx context.Context, identity registrytypes.Identity) error {
	key := store.NewKeys(identity.AccountID, identity.FunctionName).State()
	if err := m.store.Del(ctx, key); err != nil {
		return fmt.Errorf("delete state for %s: %w", identity.FullName(), err)
	}
	return nil
}
