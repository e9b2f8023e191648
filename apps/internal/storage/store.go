// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/devicegrant/devicegrant-go/apps/cache"
	"github.com/devicegrant/devicegrant-go/apps/errors"
	"github.com/devicegrant/devicegrant-go/apps/internal/logger"
	"github.com/devicegrant/devicegrant-go/apps/internal/metrics"
)

// ErrClearedDuringSave is returned by Save when the store was cleared after the Save began.
// The entry was not written.
var ErrClearedDuringSave = errors.New("storage: store was cleared while the save was in progress")

// Listing is the result of reading every entry of a Store.
type Listing[T Entry] struct {
	// Entries holds the entries that decoded, ordered by key.
	Entries []T
	// Corrupt holds a KindCacheData error for each entry that could not be decoded.
	// Those entries are not in Entries.
	Corrupt []error
}

// Store is the keyed collection of one entity type. Values are JSON encoded into a cache.Namespace.
// Writes are serialized. Clear is linearizable with Save: a Save that started before a Clear
// either lands before the Clear (and is removed by it) or fails with ErrClearedDuringSave.
type Store[T Entry] struct {
	name string
	ns   cache.Namespace
	log  *logger.Logger
	rec  *metrics.Recorder

	mu sync.RWMutex
	// generation is incremented by Clear. Protected by mu.
	generation uint64

	// beforeWrite, if set, runs in Save between reading the generation and taking the lock.
	beforeWrite func()
}

func newStore[T Entry](ctx context.Context, backend cache.Backend, name string, log *logger.Logger, rec *metrics.Recorder) (*Store[T], error) {
	ns, err := backend.Namespace(ctx, name)
	if err != nil {
		return nil, errors.Configuration(errors.FailedToCreateStore, fmt.Errorf("could not open namespace %q: %w", name, err))
	}
	if ns == nil {
		return nil, errors.Configuration(errors.FailedToCreateStore, fmt.Errorf("backend returned a nil namespace for %q", name))
	}
	return &Store[T]{name: name, ns: ns, log: log, rec: rec}, nil
}

// Name returns the name of the namespace the store writes to.
func (s *Store[T]) Name() string {
	return s.name
}

func (s *Store[T]) startSave() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Save writes entry under entry.Key(), replacing what was there.
func (s *Store[T]) Save(ctx context.Context, entry T) (err error) {
	defer func() { s.rec.CacheOp(s.name, "save", err) }()

	gen := s.startSave()
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("storage: could not encode %s entry: %w", s.name, err)
	}
	if s.beforeWrite != nil {
		s.beforeWrite()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return ErrClearedDuringSave
	}
	if err := s.ns.Put(ctx, entry.Key(), string(b)); err != nil {
		return fmt.Errorf("storage: could not save %s entry: %w", s.name, err)
	}
	return nil
}

// Get returns the entry stored at key. The bool is false if there is no such entry.
// An entry that cannot be decoded is returned as a KindCacheData error.
func (s *Store[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T

	s.mu.RLock()
	all, err := s.ns.GetAll(ctx)
	s.mu.RUnlock()
	if err != nil {
		return zero, false, fmt.Errorf("storage: could not read %s entries: %w", s.name, err)
	}
	v, ok := all[key]
	if !ok {
		return zero, false, nil
	}
	entry, err := s.decode(key, v)
	if err != nil {
		s.rec.Corrupt(s.name, 1)
		return zero, false, err
	}
	return entry, true, nil
}

// GetAll returns every entry. Entries that fail to decode are skipped and reported in Listing.Corrupt.
func (s *Store[T]) GetAll(ctx context.Context) (Listing[T], error) {
	s.mu.RLock()
	all, err := s.ns.GetAll(ctx)
	s.mu.RUnlock()
	if err != nil {
		return Listing[T]{}, fmt.Errorf("storage: could not read %s entries: %w", s.name, err)
	}

	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	l := Listing[T]{Entries: make([]T, 0, len(all))}
	for _, k := range keys {
		entry, err := s.decode(k, all[k])
		if err != nil {
			s.log.Log(ctx, logger.Warn, "skipping cache entry that could not be decoded",
				logger.Field("namespace", s.name),
				logger.Field("key", k),
				logger.Field("error", err.Error()),
			)
			l.Corrupt = append(l.Corrupt, err)
			continue
		}
		l.Entries = append(l.Entries, entry)
	}
	s.rec.Corrupt(s.name, len(l.Corrupt))
	return l, nil
}

func (s *Store[T]) decode(key, value string) (T, error) {
	var entry T
	if err := json.Unmarshal([]byte(value), &entry); err != nil {
		var zero T
		return zero, errors.CacheData(s.name, key, err)
	}
	return entry, nil
}

// Delete removes the entry at key. Deleting a missing key is not an error.
func (s *Store[T]) Delete(ctx context.Context, key string) (err error) {
	defer func() { s.rec.CacheOp(s.name, "delete", err) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ns.Remove(ctx, key); err != nil {
		return fmt.Errorf("storage: could not delete %s entry: %w", s.name, err)
	}
	return nil
}

// Clear removes every entry. It is idempotent. Any Save that started before Clear and has not
// yet written will fail with ErrClearedDuringSave, even if Clear itself returns an error.
func (s *Store[T]) Clear(ctx context.Context) (err error) {
	defer func() { s.rec.CacheOp(s.name, "clear", err) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	if err := s.ns.Clear(ctx); err != nil {
		return fmt.Errorf("storage: could not clear %s: %w", s.name, err)
	}
	return nil
}

// Count returns the number of entries that decode.
func (s *Store[T]) Count(ctx context.Context) (int, error) {
	l, err := s.GetAll(ctx)
	if err != nil {
		return 0, err
	}
	return len(l.Entries), nil
}
