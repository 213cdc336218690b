// Package redisstore backs store.Store with Redis via
// github.com/redis/go-redis/v9, grounded on the go-redis usage observed
// across the retrieval pack's manifests (0xmhha-indexer-go,
// DimaJoyti-go-coffee). AtomicUpdate uses go-redis's Watch, which issues a
// WATCH/MULTI/EXEC transaction, and retries it on a lost race up to 20 times
// before returning errs.Conflict — the natural Go mapping of spec §4.5's "optimistic compare-and-set
// read-modify-write".
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chainindex/coordinator/internal/errs"
	"github.com/chainindex/coordinator/internal/store"
)

// Store adapts a *redis.Client to store.Store.
type Store struct {
	Client *redis.Client
}

// New wraps an already-configured redis.Client.
func New(client *redis.Client) *Store {
	return &Store{Client: client}
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.Client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

func (s *Store) Del(ctx context.Context, key string) error {
	if err := s.Client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (s *Store) SAdd(ctx context.Context, set, member string) error {
	if err := s.Client.SAdd(ctx, set, member).Err(); err != nil {
		return fmt.Errorf("redis sadd %s: %w", set, err)
	}
	return nil
}

func (s *Store) SRem(ctx context.Context, set, member string) error {
	if err := s.Client.SRem(ctx, set, member).Err(); err != nil {
		return fmt.Errorf("redis srem %s: %w", set, err)
	}
	return nil
}

func (s *Store) SIsMember(ctx context.Context, set, member string) (bool, error) {
	ok, err := s.Client.SIsMember(ctx, set, member).Result()
	if err != nil {
		return false, fmt.Errorf("redis sismember %s: %w", set, err)
	}
	return ok, nil
}

func (s *Store) XAdd(ctx context.Context, stream string, fields map[string]string) (string, error) {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}

	id, err := s.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: store.MaxStreamLength,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("redis xadd %s: %w", stream, err)
	}
	return id, nil
}

func (s *Store) XLen(ctx context.Context, stream string) (int64, error) {
	n, err := s.Client.XLen(ctx, stream).Result()
	if err != nil {
		return 0, fmt.Errorf("redis xlen %s: %w", stream, err)
	}
	return n, nil
}

func (s *Store) XRead(ctx context.Context, stream, fromID string, count int64) ([]store.StreamRecord, error) {
	if fromID == "" {
		fromID = "0"
	}
	res, err := s.Client.XRangeN(ctx, stream, fromID, "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("redis xrange %s: %w", stream, err)
	}

	out := make([]store.StreamRecord, len(res))
	for i, msg := range res {
		fields := make(map[string]string, len(msg.Values))
		for k, v := range msg.Values {
			if s, ok := v.(string); ok {
				fields[k] = s
			} else {
				fields[k] = fmt.Sprint(v)
			}
		}
		out[i] = store.StreamRecord{ID: msg.ID, Fields: fields}
	}
	return out, nil
}

func (s *Store) XDel(ctx context.Context, stream, id string) error {
	if err := s.Client.XDel(ctx, stream, id).Err(); err != nil {
		return fmt.Errorf("redis xdel %s: %w", stream, err)
	}
	return nil
}

func (s *Store) AtomicUpdate(ctx context.Context, key string, fn store.UpdateFunc) error {
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Result()
		ok := true
		if errors.Is(err, redis.Nil) {
			ok = false
			err = nil
		}
		if err != nil {
			return fmt.Errorf("redis get %s in transaction: %w", key, err)
		}

		next, err := fn(current, ok)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		return err
	}

	const maxRetries = 20
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := s.Client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("redis atomic_update %s: %w", key, err)
	}
	return errs.Conflict
}
