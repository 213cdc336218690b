// Package lifecycle implements the Lifecycle Manager (spec §4.8): one
// cooperative per-indexer task that reconciles registry config, persisted
// indexer state, and the observed state of the Block-Stream and Executor
// workers. Grounded line-for-line on
// original_source/coordinator/src/lifecycle.rs's handle_transitions state
// machine and its 1000ms LOOP_THROTTLE_MS loop.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chainindex/coordinator/internal/errs"
	"github.com/chainindex/coordinator/internal/eventbus"
	"github.com/chainindex/coordinator/internal/handlers"
	"github.com/chainindex/coordinator/internal/indexerstate"
	"github.com/chainindex/coordinator/internal/registry"
	"github.com/chainindex/coordinator/internal/registrytypes"
)

// DefaultThrottle is lifecycle.rs's LOOP_THROTTLE_MS.
const DefaultThrottle = time.Second

// Manager drives one indexer through Initializing -> Running ->
// {Suspending, Repairing, Deleting} -> Suspended/Deleted.
type Manager struct {
	identity registrytypes.Identity

	registry     registry.Registry
	states       *indexerstate.Manager
	blockStreams *handlers.BlockStreamsHandler
	executors    *handlers.ExecutorsHandler
	dataLayer    *handlers.DataLayerHandler
	bus          *eventbus.Bus
	logger       *zap.Logger

	throttle time.Duration
	// deprovisionOnDelete gates the full data-layer deprovisioning path in
	// the Deleting handler. The original implementation keeps this path
	// permanently commented out ("temporarily preventing indexer
	// deprovision due to service instability"); this system exposes it as
	// an operator-controlled flag instead (see DESIGN.md).
	deprovisionOnDelete bool
}

// Deps bundles Manager's collaborators.
type Deps struct {
	Registry            registry.Registry
	States              *indexerstate.Manager
	BlockStreams        *handlers.BlockStreamsHandler
	Executors           *handlers.ExecutorsHandler
	DataLayer           *handlers.DataLayerHandler
	Bus                 *eventbus.Bus
	Logger              *zap.Logger
	Throttle            time.Duration
	DeprovisionOnDelete bool
}

func New(identity registrytypes.Identity, deps Deps) (*Manager, error) {
	if deps.Registry == nil || deps.States == nil || deps.BlockStreams == nil || deps.Executors == nil || deps.DataLayer == nil {
		return nil, fmt.Errorf("lifecycle manager for %s is missing a required collaborator", identity.FullName())
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	throttle := deps.Throttle
	if throttle == 0 {
		throttle = DefaultThrottle
	}
	return &Manager{
		identity:            identity,
		registry:            deps.Registry,
		states:              deps.States,
		blockStreams:        deps.BlockStreams,
		executors:           deps.Executors,
		dataLayer:           deps.DataLayer,
		bus:                 deps.Bus,
		logger:              logger.With(zap.String("indexer", identity.FullName())),
		throttle:            throttle,
		deprovisionOnDelete: deps.DeprovisionOnDelete,
	}, nil
}

// Run ticks handleTransitions every throttle interval until the indexer
// reaches Deleted or ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.throttle)
	defer ticker.Stop()

	for {
		done, err := m.Tick(ctx)
		if err != nil {
			m.logger.Warn("lifecycle tick failed, retrying next tick", zap.Error(err))
		}
		if done {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick runs exactly one iteration of handle_transitions, returning done=true
// once the indexer has reached Deleted and the task should exit; the
// persisted state is then removed rather than written.
func (m *Manager) Tick(ctx context.Context) (done bool, err error) {
	state, _, err := m.states.Get(ctx, m.identity)
	if err != nil {
		return false, fmt.Errorf("read state: %w", err)
	}

	config, ok, err := m.registry.Fetch(ctx, m.identity)
	if err != nil {
		return false, fmt.Errorf("fetch registry config: %w", err)
	}
	// A registry entry that vanishes outright (no tombstone) is treated the
	// same as an explicit deleted_at_block_height, per spec §4.9's
	// "Deleted indexers" handling folded into this per-indexer task rather
	// than kept as a separate synchroniser-only code path.
	deleted := !ok || config.IsDeleted()

	before := state.LifecycleState
	switch before {
	case indexerstate.Initializing:
		err = m.handleInitializing(ctx, state, config, deleted)
	case indexerstate.Running:
		err = m.handleRunning(ctx, state, config, deleted)
	case indexerstate.Suspending:
		err = m.handleSuspending(ctx, state, deleted)
	case indexerstate.Suspended:
		err = m.handleSuspended(ctx, state, deleted)
	case indexerstate.Repairing:
		err = m.handleRepairing(ctx, state, deleted)
	case indexerstate.Deleting:
		err = m.handleDeleting(ctx, state)
	case indexerstate.Deleted:
		return true, m.states.Delete(ctx, m.identity)
	}

	if state.LifecycleState != before {
		m.logger.Info("lifecycle transition", zap.String("from", before.String()), zap.String("to", state.LifecycleState.String()))
		m.publish(state.LifecycleState)
	}

	if state.LifecycleState == indexerstate.Deleted {
		if delErr := m.states.Delete(ctx, m.identity); delErr != nil && err == nil {
			err = delErr
		}
		return true, err
	}

	if writeErr := m.states.Set(ctx, m.identity, state); writeErr != nil {
		if err == nil {
			err = writeErr
		}
	}

	return state.LifecycleState == indexerstate.Deleted, err
}

func (m *Manager) publish(state indexerstate.LifecycleState) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{
		Type:      "indexer.lifecycle_transition",
		Timestamp: time.Now(),
		Data:      map[string]string{"indexer": m.identity.FullName(), "state": state.String()},
	})
}

func (m *Manager) handleInitializing(ctx context.Context, state *indexerstate.IndexerState, config registrytypes.IndexerConfig, deleted bool) error {
	if deleted {
		state.LifecycleState = indexerstate.Deleting
		return nil
	}

	if err := m.dataLayer.EnsureProvisioned(ctx, config); err != nil {
		m.logger.Warn("provisioning failed, moving to repairing", zap.Error(err))
		state.ProvisionedState = indexerstate.ProvisionedState{Kind: indexerstate.Failed}
		state.LifecycleState = indexerstate.Repairing
		return fmt.Errorf("%w: %v", errs.ProvisioningFailed, err)
	}

	state.ProvisionedState = indexerstate.ProvisionedState{Kind: indexerstate.Provisioned}
	state.LifecycleState = indexerstate.Running
	return nil
}

// handleRunning implements the Running-phase recovery table from spec
// §4.8: exactly one corrective action per tick, then executor
// synchronisation; block_stream_synced_at only advances once both succeed.
func (m *Manager) handleRunning(ctx context.Context, state *indexerstate.IndexerState, config registrytypes.IndexerConfig, deleted bool) error {
	if deleted {
		state.LifecycleState = indexerstate.Deleting
		return nil
	}
	if !state.Enabled {
		state.LifecycleState = indexerstate.Suspending
		return nil
	}

	status, err := m.blockStreams.GetStatus(ctx, config, state.BlockStreamSyncedAt)
	if err != nil {
		return fmt.Errorf("get block stream status: %w", err)
	}

	switch status {
	case handlers.StatusActive:
		// noop
	case handlers.StatusUnhealthy:
		err = m.blockStreams.Restart(ctx, config)
	case handlers.StatusInactive:
		err = m.blockStreams.Resume(ctx, config)
	case handlers.StatusUnsynced:
		err = m.blockStreams.Reconfigure(ctx, config)
	case handlers.StatusNotStarted:
		err = m.blockStreams.StartNewBlockStream(ctx, config)
	}
	if err != nil {
		return fmt.Errorf("reconcile block stream (status %s): %w", status, err)
	}

	if err := m.executors.Synchronise(ctx, config); err != nil {
		return fmt.Errorf("synchronise executor: %w", err)
	}

	version := config.RegistryVersion()
	state.BlockStreamSyncedAt = &version
	return nil
}

func (m *Manager) handleSuspending(ctx context.Context, state *indexerstate.IndexerState, deleted bool) error {
	if deleted {
		state.LifecycleState = indexerstate.Deleting
		return nil
	}

	if err := m.blockStreams.StopIfNeeded(ctx, m.identity); err != nil {
		return fmt.Errorf("stop block stream: %w", err)
	}
	if err := m.executors.StopIfNeeded(ctx, m.identity); err != nil {
		return fmt.Errorf("stop executor: %w", err)
	}
	state.LifecycleState = indexerstate.Suspended
	return nil
}

func (m *Manager) handleSuspended(ctx context.Context, state *indexerstate.IndexerState, deleted bool) error {
	if deleted {
		state.LifecycleState = indexerstate.Deleting
		return nil
	}
	if state.Enabled {
		state.LifecycleState = indexerstate.Running
	}
	return nil
}

// handleRepairing has no automatic exit: original_source/coordinator/src/
// lifecycle.rs leaves Repairing recovery to manual operator intervention,
// the only spontaneous transition is Deleting.
func (m *Manager) handleRepairing(ctx context.Context, state *indexerstate.IndexerState, deleted bool) error {
	if deleted {
		state.LifecycleState = indexerstate.Deleting
	}
	return nil
}

func (m *Manager) handleDeleting(ctx context.Context, state *indexerstate.IndexerState) error {
	if err := m.blockStreams.StopIfNeeded(ctx, m.identity); err != nil {
		return fmt.Errorf("stop block stream: %w", err)
	}
	if err := m.executors.StopIfNeeded(ctx, m.identity); err != nil {
		return fmt.Errorf("stop executor: %w", err)
	}

	if m.deprovisionOnDelete {
		if err := m.dataLayer.EnsureDeprovisioned(ctx, m.identity); err != nil {
			m.logger.Warn("deprovisioning failed, marking deleted anyway", zap.Error(err))
		}
	}

	state.LifecycleState = indexerstate.Deleted
	return nil
}
