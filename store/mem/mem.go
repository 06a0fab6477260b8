// Package mem implements an in-memory backend.
package mem

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/brightchain/brightchain"
	"github.com/brightchain/brightchain/store"
)

var (
	_ store.Backend      = &Store{}
	_ store.MultiPutter  = &Store{}
	_ store.Checkpointer = &Store{}
)

// Store is a memory-based implementation of a backend.
type Store struct {
	mu sync.Mutex
	m  map[string][]byte
}

// New produces a new, empty Store.
func New() *Store {
	return &Store{m: make(map[string][]byte)}
}

// Has implements store.Backend.
func (s *Store) Has(_ context.Context, key []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[string(key)]
	return ok, nil
}

// Get implements store.Backend.
func (s *Store) Get(_ context.Context, key []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.m[string(key)]; ok {
		return v, nil
	}
	return nil, errors.Wrapf(brightchain.ErrNotFound, "key %x", key)
}

// Put implements store.Backend.
func (s *Store) Put(_ context.Context, key, val []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(key, val)
	return nil
}

// Caller must obtain a lock.
func (s *Store) put(key, val []byte) {
	s.m[string(key)] = append([]byte(nil), val...)
}

// PutMulti implements store.MultiPutter.
func (s *Store) PutMulti(_ context.Context, kvs []store.KV) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kv := range kvs {
		s.put(kv.Key, kv.Val)
	}
	return nil
}

// Delete implements store.Backend.
func (s *Store) Delete(_ context.Context, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, string(key))
	return nil
}

// Scan implements store.Backend.
// It works on a snapshot of the matching keys,
// so f may modify the store.
func (s *Store) Scan(ctx context.Context, prefix []byte, f func(key, val []byte) error) error {
	p := string(prefix)

	s.mu.Lock()
	var keys []string
	for k := range s.m {
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
	}
	s.mu.Unlock()

	sort.Strings(keys)

	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.Lock()
		v, ok := s.m[k]
		s.mu.Unlock()
		if !ok {
			continue
		}

		if err := f([]byte(k), v); err != nil {
			return err
		}
	}
	return nil
}

// Checkpoint implements store.Checkpointer.
func (s *Store) Checkpoint(ctx context.Context, w io.Writer) error {
	return store.WriteCheckpoint(ctx, s, w)
}

// Recover implements store.Checkpointer.
func (s *Store) Recover(ctx context.Context, r io.Reader) error {
	return store.ReadCheckpoint(ctx, s, r)
}

// Len is the number of keys in the store.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// Close implements io.Closer.
func (s *Store) Close() error {
	return nil
}

func init() {
	store.Register("mem", func(context.Context, map[string]interface{}) (store.Backend, error) {
		return New(), nil
	})
}
