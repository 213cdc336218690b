// Command reset_checkpoint deletes one indexer's persisted checkpoint —
// its last_published_block cursor, its block_stream, and its lifecycle
// state — so the indexer's Lifecycle Manager finds no state on its next
// tick and starts over from Initializing. A block stream that is still
// running is not stopped by this tool.
//
// Grounded on Outblock-flowindex/backend/cmd/tools/reset_checkpoint, which
// deleted a single row from a Postgres indexing_checkpoints table; this
// variant deletes the equivalent keys from the Stream/State Store instead,
// since that's where this system's checkpoint actually lives (spec §4.5).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/chainindex/coordinator/internal/indexerstate"
	"github.com/chainindex/coordinator/internal/registrytypes"
	"github.com/chainindex/coordinator/internal/store"
	"github.com/chainindex/coordinator/internal/store/redisstore"
)

func main() {
	var accountID, functionName, redisURL string

	cmd := &cobra.Command{
		Use:   "reset_checkpoint",
		Short: "Delete an indexer's persisted checkpoint and lifecycle state",
		RunE: func(cmd *cobra.Command, args []string) error {
			identity := registrytypes.Identity{AccountID: accountID, FunctionName: functionName}
			if !identity.Valid() {
				return fmt.Errorf("--account-id and --function-name are required")
			}

			opts, err := redis.ParseURL(redisURL)
			if err != nil {
				return fmt.Errorf("parse --redis-url: %w", err)
			}
			client := redis.NewClient(opts)
			defer client.Close()
			st := redisstore.New(client)

			return resetCheckpoint(cmd.Context(), st, identity)
		},
	}

	cmd.Flags().StringVar(&accountID, "account-id", "", "indexer account id (required)")
	cmd.Flags().StringVar(&functionName, "function-name", "", "indexer function name (required)")
	cmd.Flags().StringVar(&redisURL, "redis-url", os.Getenv("REDIS_URL"), "Stream/State Store Redis URL")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resetCheckpoint(ctx context.Context, st store.Store, identity registrytypes.Identity) error {
	keys := store.NewKeys(identity.AccountID, identity.FunctionName)

	states, err := indexerstate.NewManager(st)
	if err != nil {
		return err
	}
	_, existed, err := states.Get(ctx, identity)
	if err != nil {
		return fmt.Errorf("read existing state: %w", err)
	}

	if err := states.Delete(ctx, identity); err != nil {
		return fmt.Errorf("delete lifecycle state: %w", err)
	}
	if err := st.Del(ctx, keys.LastPublishedBlock()); err != nil {
		return fmt.Errorf("delete last_published_block: %w", err)
	}
	if err := st.Del(ctx, keys.BlockStream()); err != nil {
		return fmt.Errorf("delete block_stream: %w", err)
	}

	if !existed {
		fmt.Printf("no checkpoint found for %s; it may never have run\n", identity.FullName())
		return nil
	}
	fmt.Printf("reset checkpoint for %s; its lifecycle restarts from Initializing on the next tick\n", identity.FullName())
	return nil
}
