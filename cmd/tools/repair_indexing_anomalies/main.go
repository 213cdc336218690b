// Command repair_indexing_anomalies finds indexers stuck in the Repairing
// lifecycle state and, on request, retries them by resetting their
// provisioned state to Unprovisioned — the only way out of Repairing, since
// the Lifecycle Manager itself never leaves that state automatically except
// via deletion (spec §4.8's handleRepairing: "no automatic exit except
// delete").
//
// Grounded on Outblock-flowindex/backend/cmd/tools/repair_indexing_anomalies,
// which scanned raw.indexing_errors for blocks an ingester worker had
// recorded as anomalous and replayed them; this variant scans the on-chain
// registry plus each indexer's persisted IndexerState for the equivalent
// anomaly — a provisioning task that entered Repairing — and replays it by
// clearing the stuck provisioned state instead of replaying raw block data.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chainindex/coordinator/internal/indexerstate"
	"github.com/chainindex/coordinator/internal/registry"
	"github.com/chainindex/coordinator/internal/registrytypes"
	"github.com/chainindex/coordinator/internal/store/redisstore"

	"github.com/redis/go-redis/v9"
)

func main() {
	var dbURL, redisURL string
	var retryAccountID, retryFunctionName string

	cmd := &cobra.Command{
		Use:   "repair_indexing_anomalies",
		Short: "List or retry indexers stuck in the Repairing lifecycle state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			reg, err := registry.NewPostgresRegistry(ctx, dbURL)
			if err != nil {
				return fmt.Errorf("connect registry: %w", err)
			}

			opts, err := redis.ParseURL(redisURL)
			if err != nil {
				return fmt.Errorf("parse --redis-url: %w", err)
			}
			client := redis.NewClient(opts)
			defer client.Close()

			states, err := indexerstate.NewManager(redisstore.New(client))
			if err != nil {
				return err
			}

			if retryAccountID != "" || retryFunctionName != "" {
				identity := registrytypes.Identity{AccountID: retryAccountID, FunctionName: retryFunctionName}
				if !identity.Valid() {
					return fmt.Errorf("retrying an indexer requires both --account-id and --function-name")
				}
				return retryOne(ctx, states, identity)
			}

			return listStuck(ctx, reg, states)
		},
	}

	cmd.Flags().StringVar(&dbURL, "db-url", os.Getenv("DB_URL"), "registry Postgres URL")
	cmd.Flags().StringVar(&redisURL, "redis-url", os.Getenv("REDIS_URL"), "Stream/State Store Redis URL")
	cmd.Flags().StringVar(&retryAccountID, "account-id", "", "retry only this indexer's account id")
	cmd.Flags().StringVar(&retryFunctionName, "function-name", "", "retry only this indexer's function name")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// listStuck reports every registry indexer whose persisted state is
// Repairing, without mutating anything.
func listStuck(ctx context.Context, reg registry.Registry, states *indexerstate.Manager) error {
	configs, err := reg.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("fetch registry: %w", err)
	}

	found := 0
	for identity := range configs {
		state, ok, err := states.Get(ctx, identity)
		if err != nil {
			return fmt.Errorf("read state for %s: %w", identity.FullName(), err)
		}
		if !ok || state.LifecycleState != indexerstate.Repairing {
			continue
		}
		found++
		fmt.Printf("%s: repairing since provisioned_state=%s task_id=%s\n",
			identity.FullName(), state.ProvisionedState.Kind, state.ProvisionedState.TaskID)
	}

	if found == 0 {
		fmt.Println("no indexers are stuck in Repairing")
	}
	return nil
}

// retryOne moves one indexer back from Repairing to Initializing with its
// provisioned state cleared. handleRepairing itself never leaves Repairing
// except on deletion, so re-entering handleInitializing's EnsureProvisioned
// attempt requires this explicit operator action.
func retryOne(ctx context.Context, states *indexerstate.Manager, identity registrytypes.Identity) error {
	state, ok, err := states.Get(ctx, identity)
	if err != nil {
		return fmt.Errorf("read state for %s: %w", identity.FullName(), err)
	}
	if !ok {
		return fmt.Errorf("%s has no persisted state", identity.FullName())
	}
	if state.LifecycleState != indexerstate.Repairing {
		return fmt.Errorf("%s is %s, not Repairing; nothing to retry", identity.FullName(), state.LifecycleState)
	}

	state.ProvisionedState = indexerstate.ProvisionedState{Kind: indexerstate.Unprovisioned}
	state.LifecycleState = indexerstate.Initializing
	if err := states.Set(ctx, identity, state); err != nil {
		return fmt.Errorf("write reset state for %s: %w", identity.FullName(), err)
	}

	fmt.Printf("moved %s back to initializing; it will be retried on the next lifecycle tick\n", identity.FullName())
	return nil
}
