package blockstream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chainindex/coordinator/internal/bitmapsource"
	"github.com/chainindex/coordinator/internal/registrytypes"
	"github.com/chainindex/coordinator/internal/rules"
	"github.com/chainindex/coordinator/internal/store"
	"github.com/chainindex/coordinator/internal/store/memstore"
)

type countingFetcher struct {
	mu    sync.Mutex
	calls int
}

func (f *countingFetcher) FetchExact(ctx context.Context, patterns []string, date time.Time) ([]bitmapsource.Base64Bitmap, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return nil, nil
}

func (f *countingFetcher) FetchWildcard(ctx context.Context, pattern string, date time.Time) ([]bitmapsource.Base64Bitmap, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return nil, nil
}

func (f *countingFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// blockingTailer never emits a block and only closes its channels when ctx
// is cancelled, so phase 2 can be exercised without a real chain.
type blockingTailer struct{}

func (blockingTailer) Tail(ctx context.Context, fromHeight uint64) (<-chan rules.Block, <-chan error) {
	blocks := make(chan rules.Block)
	errCh := make(chan error)
	go func() {
		<-ctx.Done()
		close(blocks)
		close(errCh)
	}()
	return blocks, errCh
}

// oneShotTailer emits exactly the given blocks, then blocks until ctx is
// cancelled.
type oneShotTailer struct {
	blocks []rules.Block
}

func (o oneShotTailer) Tail(ctx context.Context, fromHeight uint64) (<-chan rules.Block, <-chan error) {
	blocks := make(chan rules.Block, len(o.blocks))
	errCh := make(chan error)
	for _, b := range o.blocks {
		blocks <- b
	}
	go func() {
		<-ctx.Done()
		close(blocks)
		close(errCh)
	}()
	return blocks, errCh
}

func testConfig(affectedAccount string) registrytypes.IndexerConfig {
	return registrytypes.IndexerConfig{
		Identity: registrytypes.Identity{AccountID: "morgs.near", FunctionName: "my_indexer"},
		Rule: registrytypes.Rule{
			Kind:              registrytypes.RuleActionAny,
			AffectedAccountID: affectedAccount,
			Status:            registrytypes.StatusAny,
		},
		CreatedAtBlockHeight: 1,
	}
}

// TestSkipsBitmapPhaseForStarFilter grounds on block_stream.rs's
// skips_delta_lake_for_star_filter: an ActionAny rule whose
// affected_account_id is exactly "*" must never query the bitmap source.
func TestSkipsBitmapPhaseForStarFilter(t *testing.T) {
	fetcher := &countingFetcher{}
	s := memstore.New()
	e := New(Deps{Store: s, Bitmaps: fetcher, Tailer: blockingTailer{}})

	config := testConfig("*")
	keys := store.NewKeys(config.AccountID, config.FunctionName)

	ctx, cancel := context.WithCancel(context.Background())
	if err := e.Start(ctx, config, 107503700, keys); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	cancel()
	waitStopped(t, e, config.Identity)

	if fetcher.callCount() != 0 {
		t.Errorf("bitmap fetcher called %d times, want 0 for skip pattern", fetcher.callCount())
	}
}

// TestSkipsBitmapPhaseForMultiStarFilter grounds on
// skips_delta_lake_for_multiple_star_filter: a comma-joined list containing
// a skip token anywhere still bypasses the bitmap source.
func TestSkipsBitmapPhaseForMultiStarFilter(t *testing.T) {
	fetcher := &countingFetcher{}
	s := memstore.New()
	e := New(Deps{Store: s, Bitmaps: fetcher, Tailer: blockingTailer{}})

	config := testConfig("someone.near,*,another.near")
	keys := store.NewKeys(config.AccountID, config.FunctionName)

	ctx, cancel := context.WithCancel(context.Background())
	if err := e.Start(ctx, config, 107503700, keys); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	cancel()
	waitStopped(t, e, config.Identity)

	if fetcher.callCount() != 0 {
		t.Errorf("bitmap fetcher called %d times, want 0 for skip pattern", fetcher.callCount())
	}
}

// TestSecondStartIsRejected grounds on spec §4.6's single-instance
// invariant: starting an already-running identity returns errs.AlreadyExists.
func TestSecondStartIsRejected(t *testing.T) {
	s := memstore.New()
	e := New(Deps{Store: s, Bitmaps: &countingFetcher{}, Tailer: blockingTailer{}})

	config := testConfig("*")
	keys := store.NewKeys(config.AccountID, config.FunctionName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := e.Start(ctx, config, 1, keys); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := e.Start(ctx, config, 1, keys); err == nil {
		t.Fatal("expected second Start to fail")
	}
}

// TestPhase2AdvancesLastPublishedBlockUnconditionally grounds on spec §4.6
// phase 2: every tailed block moves the cursor regardless of a rule match.
func TestPhase2AdvancesLastPublishedBlockUnconditionally(t *testing.T) {
	s := memstore.New()
	nonMatching := rules.Block{
		Height: 42,
		Hash:   "abc",
		Shards: []rules.Shard{{Receipts: []rules.Receipt{{
			ReceiptID: "r1", ReceiverID: "someone-else.near", PredecessorID: "x", Success: true,
		}}}},
	}
	tailer := oneShotTailer{blocks: []rules.Block{nonMatching}}
	e := New(Deps{Store: s, Bitmaps: &countingFetcher{}, Tailer: tailer})

	// ActionFunctionCall never uses the bitmap index (only ActionAny does),
	// so this config reaches phase 2 directly without needing a Lake dep.
	config := testConfig("*")
	config.Rule.Kind = registrytypes.RuleActionFunctionCall
	config.Rule.AffectedAccountID = "contract.near"
	config.Rule.Function = "some_method"
	keys := store.NewKeys(config.AccountID, config.FunctionName)

	ctx, cancel := context.WithCancel(context.Background())
	if err := e.Start(ctx, config, 42, keys); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if v, ok, _ := s.Get(context.Background(), keys.LastPublishedBlock()); ok && v == "42" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	v, ok, _ := s.Get(context.Background(), keys.LastPublishedBlock())
	if !ok || v != "42" {
		t.Errorf("last_published_block = (%q, %v), want (42, true)", v, ok)
	}

	n, _ := s.XLen(context.Background(), keys.BlockStream())
	if n != 0 {
		t.Errorf("XLen = %d, want 0 (receiver doesn't match the rule's affected account)", n)
	}

	cancel()
	waitStopped(t, e, config.Identity)
}

func waitStopped(t *testing.T, e *Engine, identity registrytypes.Identity) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := e.Status(identity); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("task did not deregister after cancellation")
}
