// Package indexerstate holds IndexerState, the persisted control-plane view
// of one indexer's lifecycle, and is owned by the Lifecycle Manager.
package indexerstate

import "github.com/chainindex/coordinator/internal/registrytypes"

// LifecycleState is the state machine driven by internal/lifecycle.
type LifecycleState string

const (
	Initializing LifecycleState = "INITIALIZING"
	Running      LifecycleState = "RUNNING"
	Suspending   LifecycleState = "SUSPENDING"
	Suspended    LifecycleState = "SUSPENDED"
	Repairing    LifecycleState = "REPAIRING"
	Deleting     LifecycleState = "DELETING"
	Deleted      LifecycleState = "DELETED"
)

// Terminal reports whether no further lifecycle ticks should run.
func (s LifecycleState) Terminal() bool { return s == Deleted }

func (s LifecycleState) String() string { return string(s) }

// ParseLifecycleState recovers a LifecycleState from its String() form, for
// consumers (internal/metrics) that only see it after round-tripping
// through an eventbus.Event's string-keyed Data map.
func ParseLifecycleState(s string) (LifecycleState, bool) {
	switch LifecycleState(s) {
	case Initializing, Running, Suspending, Suspended, Repairing, Deleting, Deleted:
		return LifecycleState(s), true
	default:
		return "", false
	}
}

// ProvisionedKind discriminates the ProvisionedState tagged union.
type ProvisionedKind string

const (
	Unprovisioned  ProvisionedKind = "UNPROVISIONED"
	Provisioning   ProvisionedKind = "PROVISIONING"
	Provisioned    ProvisionedKind = "PROVISIONED"
	Failed         ProvisionedKind = "FAILED"
	Deprovisioning ProvisionedKind = "DEPROVISIONING"
)

// ProvisionedState tracks the data-layer provisioning task for one indexer.
type ProvisionedState struct {
	Kind   ProvisionedKind `json:"kind"`
	TaskID string          `json:"task_id,omitempty"`
}

// IndexerState is the persisted, mutable control-plane record for one
// indexer. It is stored JSON-serialized under "{ident}:state" (spec §4.5).
type IndexerState struct {
	registrytypes.Identity `json:"-"`

	LifecycleState      LifecycleState   `json:"lifecycle_state"`
	Enabled             bool             `json:"enabled"`
	BlockStreamSyncedAt *uint64          `json:"block_stream_synced_at,omitempty"`
	ProvisionedState    ProvisionedState `json:"provisioned_state"`
}

// New returns the default state for a just-discovered indexer: Initializing,
// enabled, unprovisioned.
func New(id registrytypes.Identity) *IndexerState {
	return &IndexerState{
		Identity:         id,
		LifecycleState:   Initializing,
		Enabled:          true,
		ProvisionedState: ProvisionedState{Kind: Unprovisioned},
	}
}

// Validate checks the invariants from spec §3. It does not mutate the
// receiver; callers should log and otherwise tolerate a returned error since
// these are defensive checks on data this system itself produced.
func (s *IndexerState) Validate(registryVersion uint64) error {
	if s.LifecycleState == Running && s.ProvisionedState.Kind != Provisioned {
		return errInvariant("lifecycle_state=Running requires provisioned_state=Provisioned")
	}
	if s.BlockStreamSyncedAt != nil && *s.BlockStreamSyncedAt > registryVersion {
		return errInvariant("block_stream_synced_at exceeds registry_version")
	}
	return nil
}

type invariantError string

func (e invariantError) Error() string { return string(e) }

func errInvariant(msg string) error { return invariantError(msg) }
