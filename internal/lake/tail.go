package lake

import (
	"context"
	"errors"
	"time"

	"github.com/chainindex/coordinator/internal/errs"
	"github.com/chainindex/coordinator/internal/rules"
)

// PollInterval is how often Tail retries once it catches up to the chain
// tip, grounded on near_lake_framework::streamer's poll-on-miss idiom — this
// source has no push-based feed, so "finalized" just means "the next height
// exists in the bucket yet".
const PollInterval = 2 * time.Second

// Tail implements blockstream.LiveTailer against the same object store
// historical reads use: it walks heights sequentially from fromHeight,
// blocking on GetBlock until each one appears.
func (s *Source) Tail(ctx context.Context, fromHeight uint64) (<-chan rules.Block, <-chan error) {
	blocks := make(chan rules.Block)
	errCh := make(chan error, 1)

	go func() {
		defer close(blocks)
		defer close(errCh)

		height := fromHeight
		for {
			if ctx.Err() != nil {
				return
			}

			block, actual, err := s.GetBlock(ctx, height)
			if err != nil {
				if errors.Is(err, errs.BlockNotFound) {
					select {
					case <-ctx.Done():
						return
					case <-time.After(PollInterval):
					}
					continue
				}
				select {
				case errCh <- err:
				case <-ctx.Done():
				}
				return
			}

			select {
			case blocks <- block:
			case <-ctx.Done():
				return
			}
			height = actual + 1
		}
	}()

	return blocks, errCh
}
