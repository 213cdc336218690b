package blockstream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chainindex/coordinator/internal/registrytypes"
	"github.com/chainindex/coordinator/internal/rules"
	"github.com/chainindex/coordinator/internal/store"
)

// runPhase2 tails finalized blocks from fromHeight until ctx is cancelled.
// Every block unconditionally advances last_published_block (spec §4.6
// phase 2: "the cursor moves forward regardless of whether the block
// matched"); a matching block is also appended to the stream, and — only
// while the stream is still short enough to benefit from it — cached under
// a TTL'd key, bounded by MaxStreamSizeWithCache.
func (e *Engine) runPhase2(ctx context.Context, t *task, config registrytypes.IndexerConfig, fromHeight uint64, keys store.Keys) error {
	blocks, errs := e.deps.Tailer.Tail(ctx, fromHeight)

	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-errs:
			if !ok {
				return nil
			}
			if err != nil {
				return fmt.Errorf("live tail: %w", err)
			}

		case block, ok := <-blocks:
			if !ok {
				return nil
			}
			e.setHealth(t, config.Identity, Running)
			if err := e.publishLiveBlock(ctx, config, block, keys); err != nil {
				return err
			}
		}
	}
}

func (e *Engine) publishLiveBlock(ctx context.Context, config registrytypes.IndexerConfig, block rules.Block, keys store.Keys) error {
	heightStr := fmt.Sprintf("%d", block.Height)
	if err := e.deps.Store.Set(ctx, keys.LastPublishedBlock(), heightStr, 0); err != nil {
		return fmt.Errorf("advance last_published_block to %d: %w", block.Height, err)
	}

	matches := rules.Evaluate(config.Rule, block)
	if len(matches) == 0 {
		return nil
	}

	xlen, err := e.deps.Store.XLen(ctx, keys.BlockStream())
	if err != nil {
		return fmt.Errorf("read stream length: %w", err)
	}

	if xlen <= MaxStreamSizeWithCache {
		raw, err := json.Marshal(block)
		if err != nil {
			return fmt.Errorf("encode block %d for cache: %w", block.Height, err)
		}
		if err := e.deps.Store.Set(ctx, keys.CachedBlock(block.Height), string(raw), CachedBlockTTL); err != nil {
			return fmt.Errorf("cache block %d: %w", block.Height, err)
		}
	}

	fields := map[string]string{
		"block_height": heightStr,
		"block_hash":   block.Hash,
	}
	if _, err := e.deps.Store.XAdd(ctx, keys.BlockStream(), fields); err != nil {
		return fmt.Errorf("publish block %d: %w", block.Height, err)
	}
	e.publishBlockEvent(config.Identity, block.Height)
	return nil
}
