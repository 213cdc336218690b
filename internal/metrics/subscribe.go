package metrics

import (
	"strings"

	"github.com/chainindex/coordinator/internal/blockstream"
	"github.com/chainindex/coordinator/internal/eventbus"
	"github.com/chainindex/coordinator/internal/indexerstate"
)

// Subscribe wires this Registry's block_stream_up and
// blocks_published_total instrumentation to bus's "blockstream.health" and
// "blockstream.block_published" events, letting the Block Stream Engine
// drive metrics without importing internal/metrics itself (spec §5's
// Metrics ambient concern: "wired from the Block Stream Engine ... via
// the event bus").
func (r *Registry) Subscribe(bus *eventbus.Bus) {
	health := make(chan eventbus.Event, 64)
	published := make(chan eventbus.Event, 64)
	transitions := make(chan eventbus.Event, 64)
	bus.Subscribe("blockstream.health", health)
	bus.Subscribe("blockstream.block_published", published)
	bus.Subscribe("indexer.lifecycle_transition", transitions)

	go func() {
		for {
			select {
			case evt, ok := <-health:
				if !ok {
					return
				}
				r.observeHealth(evt)
			case evt, ok := <-published:
				if !ok {
					return
				}
				r.observePublished(evt)
			case evt, ok := <-transitions:
				if !ok {
					return
				}
				r.observeLifecycleTransition(evt)
			}
		}
	}()
}

func splitIndexer(full string) (accountID, functionName string) {
	accountID, functionName, _ = strings.Cut(full, "/")
	return accountID, functionName
}

func (r *Registry) observeHealth(evt eventbus.Event) {
	fields, ok := evt.Data.(map[string]string)
	if !ok {
		return
	}
	accountID, functionName := splitIndexer(fields["indexer"])
	state := blockstream.ProcessingState(fields["state"])

	up := 0.0
	if state == blockstream.Running {
		up = 1.0
	}
	r.BlockStreamUp.WithLabelValues(accountID, functionName).Set(up)
}

func (r *Registry) observePublished(evt eventbus.Event) {
	fields, ok := evt.Data.(map[string]string)
	if !ok {
		return
	}
	accountID, functionName := splitIndexer(fields["indexer"])
	r.BlocksPublishedTotal.WithLabelValues(accountID, functionName).Inc()
}

func (r *Registry) observeLifecycleTransition(evt eventbus.Event) {
	fields, ok := evt.Data.(map[string]string)
	if !ok {
		return
	}
	state, ok := indexerstate.ParseLifecycleState(fields["state"])
	if !ok {
		return
	}
	accountID, functionName := splitIndexer(fields["indexer"])
	r.SetLifecycleState(accountID, functionName, state)
}
