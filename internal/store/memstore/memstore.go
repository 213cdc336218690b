// Package memstore is an in-process store.Store used by tests and local
// development, in the mutex-guarded-map idiom the teacher repository uses
// for internal/eventbus.Bus.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chainindex/coordinator/internal/errs"
	"github.com/chainindex/coordinator/internal/store"
)

type entry struct {
	value   string
	expires time.Time // zero means no TTL
}

type streamEntry struct {
	id     string
	seq    uint64
	fields map[string]string
}

// Store is a single-process, in-memory store.Store implementation.
type Store struct {
	mu      sync.Mutex
	kv      map[string]entry
	sets    map[string]map[string]struct{}
	streams map[string][]streamEntry
	seq     uint64
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		kv:      make(map[string]entry),
		sets:    make(map[string]map[string]struct{}),
		streams: make(map[string][]streamEntry),
	}
}

func (s *Store) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := entry{value: value}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	s.kv[key] = e
	return nil
}

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.kv[key]
	if !ok {
		return "", false, nil
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		delete(s.kv, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *Store) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv, key)
	return nil
}

func (s *Store) SAdd(_ context.Context, set, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sets[set] == nil {
		s.sets[set] = make(map[string]struct{})
	}
	s.sets[set][member] = struct{}{}
	return nil
}

func (s *Store) SRem(_ context.Context, set, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sets[set], member)
	return nil
}

func (s *Store) SIsMember(_ context.Context, set, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sets[set][member]
	return ok, nil
}

func (s *Store) XAdd(_ context.Context, stream string, fields map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	id := fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
	s.streams[stream] = append(s.streams[stream], streamEntry{id: id, seq: s.seq, fields: copied})

	if len(s.streams[stream]) > store.MaxStreamLength {
		overflow := len(s.streams[stream]) - store.MaxStreamLength
		s.streams[stream] = s.streams[stream][overflow:]
	}
	return id, nil
}

func (s *Store) XLen(_ context.Context, stream string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.streams[stream])), nil
}

func (s *Store) XRead(_ context.Context, stream, fromID string, count int64) ([]store.StreamRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.streams[stream]
	startSeq := uint64(0)
	if fromID != "" {
		if parsed, err := strconv.ParseUint(fromID, 10, 64); err == nil {
			startSeq = parsed
		}
	}

	idx := sort.Search(len(entries), func(i int) bool { return entries[i].seq > startSeq })
	var out []store.StreamRecord
	for _, e := range entries[idx:] {
		if count > 0 && int64(len(out)) >= count {
			break
		}
		out = append(out, store.StreamRecord{ID: e.id, Fields: e.fields})
	}
	return out, nil
}

func (s *Store) XDel(_ context.Context, stream, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.streams[stream]
	for i, e := range entries {
		if e.id == id {
			s.streams[stream] = append(entries[:i], entries[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *Store) AtomicUpdate(ctx context.Context, key string, fn store.UpdateFunc) error {
	const maxAttempts = 20
	for attempt := 0; attempt < maxAttempts; attempt++ {
		current, ok, err := s.Get(ctx, key)
		if err != nil {
			return err
		}
		next, err := fn(current, ok)
		if err != nil {
			return err
		}

		s.mu.Lock()
		existing, stillOk := s.kv[key]
		raceHappened := stillOk != ok || (ok && existing.value != current)
		if raceHappened {
			s.mu.Unlock()
			continue
		}
		s.kv[key] = entry{value: next}
		s.mu.Unlock()
		return nil
	}
	return errs.Conflict
}
