// Package lru implements a backend that acts as a least-recently-used read cache for a nested backend.
package lru

import (
	"context"
	"io"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/brightchain/brightchain/store"
)

var (
	_ store.Backend      = &Store{}
	_ store.MultiPutter  = &Store{}
	_ store.Checkpointer = &Store{}
)

// Store implements a memory-based least-recently-used cache for a backend.
// Writes pass through to the underlying backend.
type Store struct {
	c *lru.Cache // string(key) -> []byte
	s store.Backend
}

// New produces a new Store backed by s and caching up to size values.
func New(s store.Backend, size int) (*Store, error) {
	c, err := lru.New(size)
	return &Store{s: s, c: c}, err
}

// Has implements store.Backend.
func (s *Store) Has(ctx context.Context, key []byte) (bool, error) {
	if s.c.Contains(string(key)) {
		return true, nil
	}
	return s.s.Has(ctx, key)
}

// Get implements store.Backend.
func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	if got, ok := s.c.Get(string(key)); ok {
		return got.([]byte), nil
	}
	val, err := s.s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	s.c.Add(string(key), val)
	return val, nil
}

// Put implements store.Backend.
func (s *Store) Put(ctx context.Context, key, val []byte) error {
	if err := s.s.Put(ctx, key, val); err != nil {
		s.c.Remove(string(key))
		return err
	}
	s.c.Add(string(key), append([]byte(nil), val...))
	return nil
}

// PutMulti implements store.MultiPutter.
func (s *Store) PutMulti(ctx context.Context, kvs []store.KV) error {
	for _, kv := range kvs {
		s.c.Remove(string(kv.Key))
	}
	return store.PutMulti(ctx, s.s, kvs)
}

// Delete implements store.Backend.
func (s *Store) Delete(ctx context.Context, key []byte) error {
	s.c.Remove(string(key))
	return s.s.Delete(ctx, key)
}

// Scan implements store.Backend.
func (s *Store) Scan(ctx context.Context, prefix []byte, f func(key, val []byte) error) error {
	return s.s.Scan(ctx, prefix, f)
}

// Checkpoint implements store.Checkpointer
// when the nested backend does.
func (s *Store) Checkpoint(ctx context.Context, w io.Writer) error {
	cp, ok := s.s.(store.Checkpointer)
	if !ok {
		return errors.Errorf("nested backend %T cannot checkpoint", s.s)
	}
	return cp.Checkpoint(ctx, w)
}

// Recover implements store.Checkpointer
// when the nested backend does.
// The cache is emptied.
func (s *Store) Recover(ctx context.Context, r io.Reader) error {
	cp, ok := s.s.(store.Checkpointer)
	if !ok {
		return errors.Errorf("nested backend %T cannot recover", s.s)
	}
	defer s.c.Purge()
	return cp.Recover(ctx, r)
}

// Close closes the nested backend.
func (s *Store) Close() error {
	s.c.Purge()
	return s.s.Close()
}

func init() {
	store.Register("lru", func(ctx context.Context, conf map[string]interface{}) (store.Backend, error) {
		size, ok := conf["size"].(int)
		if !ok {
			return nil, errors.New(`missing "size" parameter`)
		}
		nested, err := store.Nested(ctx, conf, "nested")
		if err != nil {
			return nil, errors.Wrap(err, "creating nested store")
		}
		return New(nested, size)
	})
}
