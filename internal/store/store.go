// Package store defines the Stream/State Store abstraction (spec §4.5): the
// minimal key-value and append-only-stream surface the control plane
// depends on. It deliberately mirrors a Redis command surface without
// committing to Redis in the interface itself, per spec §4.5's "backing
// store is single-node with atomic single-key operations" note — memstore
// backs unit tests, redisstore backs production.
package store

import (
	"context"
	"fmt"
	"time"
)

// MaxStreamLength is the approximate cap a stream is trimmed to on every
// xadd (spec §4.5).
const MaxStreamLength = 100

// StreamRecord is one entry read back from a stream.
type StreamRecord struct {
	ID     string
	Fields map[string]string
}

// UpdateFunc is the read-modify-write function passed to AtomicUpdate. It
// receives the current value (ok=false if the key is absent) and returns
// the value to write. It must be pure: the store may call it more than once
// if the underlying compare-and-set loses a race.
type UpdateFunc func(current string, ok bool) (next string, err error)

// Store is the abstract Redis-like surface every component depends on
// instead of a concrete driver.
type Store interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Del(ctx context.Context, key string) error

	SAdd(ctx context.Context, set, member string) error
	SRem(ctx context.Context, set, member string) error
	SIsMember(ctx context.Context, set, member string) (bool, error)

	// XAdd appends fields to stream, trimming to MaxStreamLength, and
	// returns the assigned record id.
	XAdd(ctx context.Context, stream string, fields map[string]string) (string, error)
	XLen(ctx context.Context, stream string) (int64, error)
	// XRead and XDel exist for the migration path only (spec §4.5); the
	// steady-state system never calls them.
	XRead(ctx context.Context, stream, fromID string, count int64) ([]StreamRecord, error)
	XDel(ctx context.Context, stream, id string) error

	// AtomicUpdate performs an optimistic compare-and-set read-modify-write
	// on key, retrying fn internally on conflict. An error from fn is
	// returned at once; after 20 conflicting attempts both backends give up
	// with errs.Conflict.
	AtomicUpdate(ctx context.Context, key string, fn UpdateFunc) error
}

// Keys derives the three per-indexer keys spec §4.5 names, namespaced by
// account_id/function_name.
type Keys struct {
	ident string
}

// NewKeys builds the per-indexer key namespace.
func NewKeys(accountID, functionName string) Keys {
	return Keys{ident: accountID + "/" + functionName}
}

func (k Keys) BlockStream() string       { return k.ident + ":block_stream" }
func (k Keys) LastPublishedBlock() string { return k.ident + ":last_published_block" }
func (k Keys) State() string              { return k.ident + ":state" }

// CachedBlock is the TTL'd key a matching phase-2 block's raw body is cached
// under, grounded on block_stream.rs's cache_streamer_message.
func (k Keys) CachedBlock(height uint64) string {
	return fmt.Sprintf("%s:block:%d", k.ident, height)
}
