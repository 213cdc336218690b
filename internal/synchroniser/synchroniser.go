// Package synchroniser implements the Synchroniser/Reconciler (spec §4.9):
// a periodic global pass, orthogonal to any single indexer's lifecycle, that
// discovers indexers present on the registry with no running lifecycle task
// and spawns one. Grounded on
// original_source/coordinator/src/synchroniser.rs's discovery concept,
// simplified to the shape of
// original_source/coordinator/src/synchronise/block_streams.rs: a registry
// fetch diffed against currently-running tasks, rather than that file's
// richer SynchronisationState classification — this system's per-indexer
// internal/lifecycle.Manager already drives New/Existing/Deleted
// transitions (including the "registry entry vanished outright" case) once
// spawned, so the Synchroniser's only remaining job is to keep exactly one
// lifecycle task alive per indexer identity for as long as it exists.
package synchroniser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chainindex/coordinator/internal/registry"
	"github.com/chainindex/coordinator/internal/registrytypes"
)

// DefaultInterval matches config.Config's SynchroniserInterval default.
const DefaultInterval = 30 * time.Second

// Task is satisfied by *lifecycle.Manager: a long-running per-indexer
// reconciliation loop that exits on its own once the indexer reaches
// Deleted.
type Task interface {
	Run(ctx context.Context)
}

// Factory constructs the lifecycle task for a newly discovered indexer.
type Factory func(identity registrytypes.Identity) (Task, error)

// Synchroniser owns the set of currently-running per-indexer lifecycle
// tasks and keeps it in sync with the registry.
type Synchroniser struct {
	registry   registry.Registry
	newTask    Factory
	interval   time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	running map[registrytypes.Identity]context.CancelFunc
	wg      sync.WaitGroup
}

func New(reg registry.Registry, newTask Factory, interval time.Duration, logger *zap.Logger) (*Synchroniser, error) {
	if reg == nil || newTask == nil {
		return nil, fmt.Errorf("synchroniser requires a registry and a task factory")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchroniser{
		registry: reg,
		newTask:  newTask,
		interval: interval,
		logger:   logger,
		running:  make(map[registrytypes.Identity]context.CancelFunc),
	}, nil
}

// Run re-discovers the registry every interval until ctx is cancelled, then
// waits for every spawned lifecycle task to exit.
func (s *Synchroniser) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if err := s.Tick(ctx); err != nil {
		s.logger.Warn("synchroniser tick failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Warn("synchroniser tick failed", zap.Error(err))
			}
		}
	}
}

// Tick fetches the full registry and spawns a lifecycle task for every
// identity that doesn't already have one running. It never stops a running
// task directly — a task whose indexer has vanished from the registry
// discovers that itself on its next lifecycle tick and winds down through
// Deleting/Deleted.
func (s *Synchroniser) Tick(ctx context.Context) error {
	configs, err := s.registry.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("fetch registry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for identity := range configs {
		if _, ok := s.running[identity]; ok {
			continue
		}
		s.spawnLocked(ctx, identity)
	}
	return nil
}

func (s *Synchroniser) spawnLocked(ctx context.Context, identity registrytypes.Identity) {
	task, err := s.newTask(identity)
	if err != nil {
		s.logger.Error("failed to construct lifecycle task", zap.String("indexer", identity.FullName()), zap.Error(err))
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)
	s.running[identity] = cancel
	s.logger.Info("spawning lifecycle task", zap.String("indexer", identity.FullName()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		task.Run(taskCtx)
		cancel()

		s.mu.Lock()
		delete(s.running, identity)
		s.mu.Unlock()
		s.logger.Info("lifecycle task exited", zap.String("indexer", identity.FullName()))
	}()
}

// RunningCount reports how many lifecycle tasks are currently spawned.
func (s *Synchroniser) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}
