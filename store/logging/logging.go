// Package logging implements a backend that delegates everything to a nested backend,
// logging operations as they happen.
package logging

import (
	"context"
	"encoding/hex"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/brightchain/brightchain/store"
)

var (
	_ store.Backend      = &Store{}
	_ store.MultiPutter  = &Store{}
	_ store.Checkpointer = &Store{}
)

// Store logs each operation on a nested backend at debug level,
// and each failure at error level.
type Store struct {
	s   store.Backend
	log *logrus.Logger
}

// New produces a new Store wrapping s.
// If log is nil, logrus.StandardLogger() is used.
func New(s store.Backend, log *logrus.Logger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{s: s, log: log}
}

func (s *Store) entry(op string, key []byte) *logrus.Entry {
	e := s.log.WithField("op", op)
	if key != nil {
		e = e.WithField("key", logKey(key))
	}
	return e
}

func (s *Store) done(e *logrus.Entry, err error) {
	if err != nil {
		e.WithError(err).Error("backend operation failed")
	} else {
		e.Debug("backend operation")
	}
}

func (s *Store) Has(ctx context.Context, key []byte) (bool, error) {
	ok, err := s.s.Has(ctx, key)
	s.done(s.entry("Has", key).WithField("present", ok), err)
	return ok, err
}

func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	val, err := s.s.Get(ctx, key)
	s.done(s.entry("Get", key).WithField("len", len(val)), err)
	return val, err
}

func (s *Store) Put(ctx context.Context, key, val []byte) error {
	err := s.s.Put(ctx, key, val)
	s.done(s.entry("Put", key).WithField("len", len(val)), err)
	return err
}

func (s *Store) PutMulti(ctx context.Context, kvs []store.KV) error {
	err := store.PutMulti(ctx, s.s, kvs)
	s.done(s.entry("PutMulti", nil).WithField("count", len(kvs)), err)
	return err
}

func (s *Store) Delete(ctx context.Context, key []byte) error {
	err := s.s.Delete(ctx, key)
	s.done(s.entry("Delete", key), err)
	return err
}

func (s *Store) Scan(ctx context.Context, prefix []byte, f func(key, val []byte) error) error {
	var n int
	err := s.s.Scan(ctx, prefix, func(key, val []byte) error {
		n++
		return f(key, val)
	})
	s.done(s.entry("Scan", prefix).WithField("count", n), err)
	return err
}

func (s *Store) Checkpoint(ctx context.Context, w io.Writer) error {
	cp, ok := s.s.(store.Checkpointer)
	if !ok {
		return errors.Errorf("nested backend %T cannot checkpoint", s.s)
	}
	err := cp.Checkpoint(ctx, w)
	s.done(s.entry("Checkpoint", nil), err)
	return err
}

func (s *Store) Recover(ctx context.Context, r io.Reader) error {
	cp, ok := s.s.(store.Checkpointer)
	if !ok {
		return errors.Errorf("nested backend %T cannot recover", s.s)
	}
	err := cp.Recover(ctx, r)
	s.done(s.entry("Recover", nil), err)
	return err
}

func (s *Store) Close() error {
	err := s.s.Close()
	s.done(s.entry("Close", nil), err)
	return err
}

// logKey renders a key for the log:
// printable prefixes stay readable and the rest is hex.
func logKey(key []byte) string {
	for i, c := range key {
		if c < 0x20 || c > 0x7e {
			return string(key[:i]) + hex.EncodeToString(key[i:])
		}
	}
	return string(key)
}

func init() {
	store.Register("logging", func(ctx context.Context, conf map[string]interface{}) (store.Backend, error) {
		nested, err := store.Nested(ctx, conf, "nested")
		if err != nil {
			return nil, errors.Wrap(err, "creating nested store")
		}
		log, _ := conf["logger"].(*logrus.Logger)
		return New(nested, log), nil
	})
}
