package blockstream

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chainindex/coordinator/internal/bitmap"
	"github.com/chainindex/coordinator/internal/bitmapsource"
	"github.com/chainindex/coordinator/internal/registrytypes"
	"github.com/chainindex/coordinator/internal/store"
)

// runPhase1 walks the bitmap index day by day from startBlockHeight's
// calendar date up to today, publishing every height whose bit is set (spec
// §4.6 phase 1) without reading the block itself — the bitmap index already
// is the match decision for this phase. It returns the last height it
// considered, so phase 2 can resume immediately after.
func (e *Engine) runPhase1(ctx context.Context, t *task, config registrytypes.IndexerConfig, startBlockHeight uint64, keys store.Keys) (uint64, error) {
	pattern := bitmapsource.ParsePattern(config.Rule.AffectedAccountID)

	date, err := e.deps.Lake.GetNearestBlockDate(ctx, startBlockHeight)
	if err != nil {
		return 0, fmt.Errorf("resolve start date for height %d: %w", startBlockHeight, err)
	}

	last := startBlockHeight - 1
	today := time.Now().UTC()
	for d := date; !d.After(today); d = d.AddDate(0, 0, 1) {
		if ctx.Err() != nil {
			return last, nil
		}

		e.setHealth(t, config.Identity, Running)
		dayLast, err := e.processBitmapDay(ctx, t, config, pattern, keys, d, startBlockHeight)
		if err != nil {
			// A corrupt or unreachable day's bitmap is non-fatal: skip that
			// day and go on with the next one; phase 2 still follows once
			// every day has been tried, mirroring the Rust client's per-day
			// isolation.
			e.deps.Logger.Warn("skipping bitmap day after error",
				zap.String("indexer", config.FullName()), zap.Time("date", d), zap.Error(err))
			continue
		}
		if dayLast > last {
			last = dayLast
		}
	}

	return last, nil
}

func (e *Engine) processBitmapDay(ctx context.Context, t *task, config registrytypes.IndexerConfig, pattern bitmapsource.ContractPattern, keys store.Keys, date time.Time, floor uint64) (uint64, error) {
	rows, err := bitmapsource.Fetch(ctx, e.deps.Bitmaps, pattern, date)
	if err != nil {
		return 0, fmt.Errorf("fetch bitmaps for %s: %w", date.Format("2006-01-02"), err)
	}

	merged, err := mergeDay(rows)
	if err != nil {
		return 0, err
	}

	last := floor - 1
	for _, height := range bitmap.Iter(merged) {
		if ctx.Err() != nil {
			return last, nil
		}
		if height < floor {
			continue
		}

		if err := e.publishBitmapHeight(ctx, config, keys, height); err != nil {
			return last, err
		}
		last = height
	}
	return last, nil
}

// publishBitmapHeight publishes a bitmap set-bit height directly, with no
// block fetch and no rule re-evaluation: the bitmap index already is the
// match decision for phase 1 (spec §4.6, §1's "without reading every
// block"). It unconditionally updates last_published_block and appends the
// height to the stream (spec §4.6: "the engine itself never filters on
// cache size during phase 1; every matched height is durable").
func (e *Engine) publishBitmapHeight(ctx context.Context, config registrytypes.IndexerConfig, keys store.Keys, height uint64) error {
	heightStr := fmt.Sprintf("%d", height)
	fields := map[string]string{"block_height": heightStr}
	if _, err := e.deps.Store.XAdd(ctx, keys.BlockStream(), fields); err != nil {
		return fmt.Errorf("publish block %d: %w", height, err)
	}
	e.publishBlockEvent(config.Identity, height)

	if err := e.deps.Store.Set(ctx, keys.LastPublishedBlock(), heightStr, 0); err != nil {
		return fmt.Errorf("advance last_published_block to %d: %w", height, err)
	}
	return nil
}
