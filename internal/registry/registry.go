// Package registry is the read-only client for the on-chain indexer
// registry: the source of truth for registrytypes.IndexerConfig that the
// Lifecycle Manager and Synchroniser reconcile against (spec §4's external
// interface: fetch_all/fetch, re-queried every tick, never cached across
// ticks). This system never writes to the registry.
package registry

import (
	"context"

	"github.com/chainindex/coordinator/internal/registrytypes"
)

// Registry is the abstract read-only surface the Lifecycle Manager and
// Synchroniser depend on instead of a concrete driver.
type Registry interface {
	// FetchAll returns every indexer config currently on the registry,
	// keyed by identity. Called once per synchroniser tick; no in-memory
	// singleton of the result is retained between calls.
	FetchAll(ctx context.Context) (map[registrytypes.Identity]registrytypes.IndexerConfig, error)

	// Fetch returns identity's current config, or ok=false if it no longer
	// exists on the registry (a hard delete rather than a tombstone).
	Fetch(ctx context.Context, identity registrytypes.Identity) (registrytypes.IndexerConfig, bool, error)
}
