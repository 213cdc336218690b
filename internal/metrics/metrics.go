// Package metrics exposes the control plane's Prometheus instrumentation
// (spec §5's Metrics ambient concern), grounded on
// original_source/block-streamer/src/metrics.rs's PollCounter concept and
// wired using github.com/prometheus/client_golang, the metrics library the
// rest of the retrieved corpus reaches for.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chainindex/coordinator/internal/indexerstate"
)

var allLifecycleStates = []indexerstate.LifecycleState{
	indexerstate.Initializing, indexerstate.Running, indexerstate.Suspending,
	indexerstate.Suspended, indexerstate.Repairing, indexerstate.Deleting, indexerstate.Deleted,
}

// Registry bundles the control plane's gauges and counters behind a single
// handle so components don't reach for package-level globals directly.
type Registry struct {
	BlockStreamUp         *prometheus.GaugeVec
	IndexerLifecycleState *prometheus.GaugeVec
	BlocksPublishedTotal  *prometheus.CounterVec

	registry *prometheus.Registry
}

// New registers the control plane's metrics against a fresh
// prometheus.Registry, suitable for both production (served via Handler)
// and tests (asserted against directly without a shared global registry).
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	r := &Registry{
		BlockStreamUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "block_stream_up",
			Help: "1 if a healthy, synced block stream is running for this indexer, else 0.",
		}, []string{"account_id", "function_name"}),

		IndexerLifecycleState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "indexer_lifecycle_state",
			Help: "Lifecycle Manager state for this indexer, one gauge set to 1 per current state label.",
		}, []string{"account_id", "function_name", "state"}),

		BlocksPublishedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "blocks_published_total",
			Help: "Cumulative count of block heights published to an indexer's stream.",
		}, []string{"account_id", "function_name"}),
	}
	r.registry = reg
	return r
}

// Handler serves this registry's metrics in the Prometheus exposition
// format, for mounting under a health/metrics HTTP server.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// SetLifecycleState records current as the indexer's lifecycle state,
// zeroing every other state's gauge so exactly one state label reads 1 at
// a time.
func (r *Registry) SetLifecycleState(accountID, functionName string, current indexerstate.LifecycleState) {
	for _, s := range allLifecycleStates {
		v := 0.0
		if s == current {
			v = 1.0
		}
		r.IndexerLifecycleState.WithLabelValues(accountID, functionName, s.String()).Set(v)
	}
}
