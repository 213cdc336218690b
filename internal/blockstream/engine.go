// Package blockstream implements the Block Stream Engine (spec §4.6): the
// per-indexer task that discovers and publishes matching block heights,
// first via the bitmap index (phase 1) and then by tailing finalized blocks
// (phase 2). Grounded on
// original_source/block-streamer/src/block_stream.rs's BlockStream/Task
// (single-instance start, cancellation token) generalized from Rust's
// tokio_util::sync::CancellationToken to context.Context, the idiomatic Go
// equivalent.
package blockstream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chainindex/coordinator/internal/bitmap"
	"github.com/chainindex/coordinator/internal/bitmapsource"
	"github.com/chainindex/coordinator/internal/errs"
	"github.com/chainindex/coordinator/internal/eventbus"
	"github.com/chainindex/coordinator/internal/lake"
	"github.com/chainindex/coordinator/internal/registrytypes"
	"github.com/chainindex/coordinator/internal/rules"
	"github.com/chainindex/coordinator/internal/store"
)

// StalledAfter is the no-progress duration after which a stream is
// considered Stalled and therefore unhealthy (spec §4.6/§4.7).
const StalledAfter = 180 * time.Second

// MaxStreamSizeWithCache is the xlen ceiling at or under which a matching
// phase-2 block is also cached, grounded on block_stream.rs's
// MAX_STREAM_SIZE_WITH_CACHE.
const MaxStreamSizeWithCache = 100

// CachedBlockTTL bounds how long a raw block cached by phase 2 survives in
// the store. The original's cache_streamer_message carries no TTL value in
// this retrieval pack; five minutes is comfortably longer than any
// reasonable consumer lag while still bounding store growth.
const CachedBlockTTL = 5 * time.Minute

// ProcessingState is the per-iteration health classification from spec
// §4.6.
type ProcessingState string

const (
	Running ProcessingState = "RUNNING"
	Waiting ProcessingState = "WAITING"
	Idle    ProcessingState = "IDLE"
	Stalled ProcessingState = "STALLED"
)

// Health is the observed liveness of a running stream.
type Health struct {
	UpdatedAt       time.Time
	ProcessingState ProcessingState
}

// Unhealthy reports spec §4.7's staleness/Stalled health check.
func (h Health) Unhealthy() bool {
	return h.ProcessingState == Stalled || time.Since(h.UpdatedAt) >= StalledAfter
}

// StreamInfo is the observed state of one running (or just-stopped) stream.
type StreamInfo struct {
	Identity registrytypes.Identity
	Version  uint64
	Health   *Health
}

// LiveTailer streams finalized blocks starting at fromHeight until ctx is
// cancelled, mirroring near_lake_framework::streamer's (sender, receiver)
// shape as a pair of channels.
type LiveTailer interface {
	Tail(ctx context.Context, fromHeight uint64) (<-chan rules.Block, <-chan error)
}

// BitmapFetcher is the subset of the Bitmap Source this engine drives.
type BitmapFetcher interface {
	bitmapsource.Fetcher
}

// Deps bundles the engine's external collaborators.
type Deps struct {
	Store   store.Store
	Bitmaps BitmapFetcher
	Lake    *lake.Source
	Tailer  LiveTailer
	Logger  *zap.Logger
	// Bus, if set, receives a "blockstream.health" event on every health
	// update, changed or not, so subscribers such as internal/metrics can
	// react without polling Status.
	Bus *eventbus.Bus
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	info    StreamInfo
	lastErr error
}

func (t *task) snapshot() StreamInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	infoCopy := t.info
	if t.info.Health != nil {
		h := *t.info.Health
		infoCopy.Health = &h
	}
	return infoCopy
}

func (t *task) setHealth(state ProcessingState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.info.Health = &Health{UpdatedAt: time.Now(), ProcessingState: state}
}

// setHealth updates t's health and, if a Bus is wired in, publishes the
// transition so other components can react without polling Status.
func (e *Engine) setHealth(t *task, identity registrytypes.Identity, state ProcessingState) {
	t.setHealth(state)
	if e.deps.Bus == nil {
		return
	}
	e.deps.Bus.Publish(eventbus.Event{
		Type:      "blockstream.health",
		Timestamp: time.Now(),
		Data:      map[string]string{"indexer": identity.FullName(), "state": string(state)},
	})
}

// publishBlockEvent notifies a wired Bus that height was appended to
// identity's stream, letting internal/metrics count blocks_published_total
// without polling the store.
func (e *Engine) publishBlockEvent(identity registrytypes.Identity, height uint64) {
	if e.deps.Bus == nil {
		return
	}
	e.deps.Bus.Publish(eventbus.Event{
		Type:      "blockstream.block_published",
		Height:    height,
		Timestamp: time.Now(),
		Data:      map[string]string{"indexer": identity.FullName()},
	})
}

// Engine owns every running per-indexer stream task, enforcing the
// single-instance invariant from spec §4.6.
type Engine struct {
	deps Deps

	mu      sync.Mutex
	running map[string]*task
}

// New builds an Engine with its collaborators wired in.
func New(deps Deps) *Engine {
	return &Engine{deps: deps, running: make(map[string]*task)}
}

// Start launches the per-indexer task. It returns errs.AlreadyExists if a
// task for this identity is already running.
func (e *Engine) Start(parent context.Context, config registrytypes.IndexerConfig, startBlockHeight uint64, keys store.Keys) error {
	key := config.FullName()

	e.mu.Lock()
	if _, exists := e.running[key]; exists {
		e.mu.Unlock()
		return fmt.Errorf("block stream for %s: %w", key, errs.AlreadyExists)
	}

	ctx, cancel := context.WithCancel(parent)
	t := &task{
		cancel: cancel,
		done:   make(chan struct{}),
		info: StreamInfo{
			Identity: config.Identity,
			Version:  config.RegistryVersion(),
			Health:   &Health{UpdatedAt: time.Now(), ProcessingState: Waiting},
		},
	}
	e.running[key] = t
	e.mu.Unlock()

	go e.run(ctx, t, config, startBlockHeight, keys)
	return nil
}

// Stop cooperatively cancels the running task and waits for it to exit.
func (e *Engine) Stop(identity registrytypes.Identity) error {
	key := identity.FullName()

	e.mu.Lock()
	t, exists := e.running[key]
	if !exists {
		e.mu.Unlock()
		return fmt.Errorf("block stream for %s: %w", key, errs.NotFound)
	}
	delete(e.running, key)
	e.mu.Unlock()

	t.cancel()
	<-t.done
	return nil
}

// Status returns the observed StreamInfo for a running task.
func (e *Engine) Status(identity registrytypes.Identity) (StreamInfo, bool) {
	e.mu.Lock()
	t, exists := e.running[identity.FullName()]
	e.mu.Unlock()
	if !exists {
		return StreamInfo{}, false
	}
	return t.snapshot(), true
}

// List returns every currently running StreamInfo.
func (e *Engine) List() []StreamInfo {
	e.mu.Lock()
	tasks := make([]*task, 0, len(e.running))
	for _, t := range e.running {
		tasks = append(tasks, t)
	}
	e.mu.Unlock()

	out := make([]StreamInfo, len(tasks))
	for i, t := range tasks {
		out[i] = t.snapshot()
	}
	return out
}

func (e *Engine) run(ctx context.Context, t *task, config registrytypes.IndexerConfig, startBlockHeight uint64, keys store.Keys) {
	defer close(t.done)
	defer func() {
		e.mu.Lock()
		delete(e.running, config.FullName())
		e.mu.Unlock()
	}()

	logger := e.deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	phase1Last := startBlockHeight - 1
	if usesBitmapPhase(config.Rule) {
		last, err := e.runPhase1(ctx, t, config, startBlockHeight, keys)
		if err != nil {
			if ctx.Err() != nil {
				return // cancelled: exit cleanly, spec §4.6 "returns successfully"
			}
			t.mu.Lock()
			t.lastErr = err
			t.mu.Unlock()
			logger.Error("block stream phase 1 failed, terminal for this task",
				zap.String("indexer", config.FullName()), zap.Error(err))
			return
		}
		phase1Last = last
	}

	phase2Start := startBlockHeight
	if phase1Last+1 > phase2Start {
		phase2Start = phase1Last + 1
	}

	if err := e.runPhase2(ctx, t, config, phase2Start, keys); err != nil && ctx.Err() == nil {
		t.mu.Lock()
		t.lastErr = err
		t.mu.Unlock()
		logger.Error("block stream phase 2 stopped due to error",
			zap.String("indexer", config.FullName()), zap.Error(err))
	}
}

// usesBitmapPhase implements spec §4.6 phase 1's gating: only ActionAny
// rules whose affected_account_id isn't a skip pattern benefit from the
// bitmap index's selectivity.
func usesBitmapPhase(rule registrytypes.Rule) bool {
	return rule.UsesBitmapIndex() && !bitmapsource.IsSkipPattern(rule.AffectedAccountID)
}

// mergeDay decompresses and merges one day's Base64Bitmap rows into a
// single DecompressedBitmap aligned to their minimum start height.
func mergeDay(rows []bitmapsource.Base64Bitmap) (bitmap.DecompressedBitmap, error) {
	if len(rows) == 0 {
		return bitmap.DecompressedBitmap{}, nil
	}

	minStart := rows[0].StartBlockHeight
	for _, r := range rows {
		if r.StartBlockHeight < minStart {
			minStart = r.StartBlockHeight
		}
	}

	merged := bitmap.DecompressedBitmap{StartBlockHeight: minStart}
	for _, r := range rows {
		compressed, err := bitmap.FromBase64(r.StartBlockHeight, r.Base64)
		if err != nil {
			return bitmap.DecompressedBitmap{}, err
		}
		decompressed, err := bitmap.Decompress(compressed)
		if err != nil {
			return bitmap.DecompressedBitmap{}, err
		}
		merged, err = bitmap.Merge(merged, decompressed)
		if err != nil {
			return bitmap.DecompressedBitmap{}, err
		}
	}
	return merged, nil
}
