// Package replica implements a backend that mirrors writes to several nested backends.
package replica

import (
	"bytes"
	"context"
	"reflect"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/brightchain/brightchain"
	"github.com/brightchain/brightchain/store"
)

var (
	_ store.Backend     = (*Store)(nil)
	_ store.MultiPutter = (*Store)(nil)
)

// Store is a backend that delegates reads and writes to two sets of nested backends.
// One set is synchronous:
// writes to all of these must succeed before a call to Put or Delete returns,
// and an error from any will cause the call to fail.
// The other set is asynchronous:
// a write is queued on these backends but not waited for.
// However, if any asynchronous write encounters an error,
// the whole Store is put into an error state and further operations will fail.
//
// Reads consult only the synchronous backends.
type Store struct {
	sync   []store.Backend
	async  []asyncBackend
	cancel context.CancelFunc

	mu  sync.Mutex // protects err
	err error      // the error from an async goroutine, if any
}

type op struct {
	kvs    []store.KV
	key    []byte
	delete bool
}

type asyncBackend struct {
	b    store.Backend
	ops  chan<- op
	errs <-chan error
}

// New produces a new Store.
// The set of synchronous backends must be non-empty.
// The set of asynchronous backends may be empty.
// If there are any asynchronous backends,
// goroutines are launched for them,
// and canceling the given context object causes those to exit,
// placing the Store in an error state.
//
// The queue for each asynchronous backend has a fixed length given by n,
// which must be 1 or greater.
// If any async backend falls too far behind,
// writes block until they can be queued.
func New(ctx context.Context, sync, async []store.Backend, n int) (*Store, error) {
	if len(sync) == 0 {
		return nil, errors.New("no synchronous backends")
	}
	if n < 1 {
		return nil, errors.Errorf("bad queue length %d", n)
	}

	result := &Store{sync: sync}
	if len(async) == 0 {
		return result, nil
	}

	ctx, result.cancel = context.WithCancel(ctx)

	selectCases := make([]reflect.SelectCase, 1+len(async))
	for i, a := range async {
		var (
			ops  = make(chan op, n)
			errs = make(chan error, 1)
		)
		result.async = append(result.async, asyncBackend{b: a, ops: ops, errs: errs})

		selectCases[i].Dir = reflect.SelectRecv
		selectCases[i].Chan = reflect.ValueOf(errs)

		go runAsync(ctx, a, ops, errs)
	}
	selectCases[len(async)].Dir = reflect.SelectRecv
	selectCases[len(async)].Chan = reflect.ValueOf(ctx.Done())

	go func() {
		_, errval, ok := reflect.Select(selectCases)
		if ok {
			result.cancel()
			result.mu.Lock()
			result.err = errval.Interface().(error)
			result.mu.Unlock()
		}
	}()

	return result, nil
}

// Runs as a goroutine until ctx is canceled or an error occurs (which it writes to errs).
func runAsync(ctx context.Context, b store.Backend, ops <-chan op, errs chan<- error) {
	defer close(errs)

	for {
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return

		case o := <-ops:
			var err error
			if o.delete {
				err = b.Delete(ctx, o.key)
			} else {
				err = store.PutMulti(ctx, b, o.kvs)
			}
			if err != nil {
				errs <- err
				return
			}
		}
	}
}

func (s *Store) checkErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Wrap(s.err, "in async-backend goroutine")
}

// write applies f to every synchronous backend
// and queues o for every asynchronous one.
func (s *Store) write(ctx context.Context, o op, f func(context.Context, store.Backend) error) error {
	if err := s.checkErr(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, b := range s.sync {
		b := b
		g.Go(func() error { return f(gctx, b) })
	}

	for _, a := range s.async {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case a.ops <- o:
		}
	}

	return g.Wait()
}

// Put implements store.Backend.
// The pair is stored in all synchronous backends.
func (s *Store) Put(ctx context.Context, key, val []byte) error {
	kv := store.KV{Key: append([]byte(nil), key...), Val: append([]byte(nil), val...)}
	return s.write(ctx, op{kvs: []store.KV{kv}}, func(ctx context.Context, b store.Backend) error {
		return b.Put(ctx, kv.Key, kv.Val)
	})
}

// PutMulti implements store.MultiPutter.
func (s *Store) PutMulti(ctx context.Context, kvs []store.KV) error {
	return s.write(ctx, op{kvs: kvs}, func(ctx context.Context, b store.Backend) error {
		return store.PutMulti(ctx, b, kvs)
	})
}

// Delete implements store.Backend.
func (s *Store) Delete(ctx context.Context, key []byte) error {
	key = append([]byte(nil), key...)
	return s.write(ctx, op{key: key, delete: true}, func(ctx context.Context, b store.Backend) error {
		return b.Delete(ctx, key)
	})
}

// Has implements store.Backend.
// It reports whether any synchronous backend has key.
func (s *Store) Has(ctx context.Context, key []byte) (bool, error) {
	if err := s.checkErr(); err != nil {
		return false, err
	}
	for _, b := range s.sync {
		ok, err := b.Has(ctx, key)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Get implements store.Backend.
// It delegates the request to all of the synchronous backends,
// returning the result from the first one to respond without error
// and canceling the request to the others.
// If none has the key,
// the result is an error wrapping brightchain.ErrNotFound.
func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := s.checkErr(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		val []byte
		err error
	}
	ch := make(chan result, len(s.sync))
	for _, b := range s.sync {
		b := b
		go func() {
			val, err := b.Get(ctx, key)
			ch <- result{val: val, err: err}
		}()
	}

	var err error
	for range s.sync {
		r := <-ch
		if r.err == nil {
			return r.val, nil
		}
		if err == nil || errors.Is(err, brightchain.ErrNotFound) {
			err = r.err
		}
	}
	return nil, err
}

// Scan implements store.Backend.
// It scans all of the synchronous backends
// and synthesizes the result from the union of their pairs.
// Where backends disagree about a key's value,
// the earliest backend in the list wins.
func (s *Store) Scan(ctx context.Context, prefix []byte, f func(key, val []byte) error) error {
	if err := s.checkErr(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	chans := make([]chan store.KV, len(s.sync))
	for i, b := range s.sync {
		var (
			ch = make(chan store.KV, 1)
			b  = b
		)
		chans[i] = ch
		g.Go(func() error {
			defer close(ch)
			return b.Scan(ctx, prefix, func(key, val []byte) error {
				kv := store.KV{Key: append([]byte(nil), key...), Val: append([]byte(nil), val...)}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case ch <- kv:
					return nil
				}
			})
		})
	}

	var (
		next = make([]store.KV, len(chans))
		live = make([]bool, len(chans))
	)
	for i, ch := range chans {
		next[i], live[i] = <-ch
	}

	for {
		best := -1
		for i := range next {
			if !live[i] {
				continue
			}
			if best < 0 || bytes.Compare(next[i].Key, next[best].Key) < 0 {
				best = i
			}
		}
		if best < 0 {
			break
		}
		kv := next[best]
		if err := f(kv.Key, kv.Val); err != nil {
			cancel()
			g.Wait()
			return err
		}
		for i := range next {
			if live[i] && bytes.Equal(next[i].Key, kv.Key) {
				next[i], live[i] = <-chans[i]
			}
		}
	}

	return g.Wait()
}

// Close stops the asynchronous goroutines and closes every nested backend.
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	var errs []error
	for _, b := range s.sync {
		errs = append(errs, b.Close())
	}
	for _, a := range s.async {
		errs = append(errs, a.b.Close())
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func nestedList(ctx context.Context, conf map[string]interface{}, name string) ([]store.Backend, error) {
	items, _ := conf[name].([]interface{})
	var result []store.Backend
	for _, item := range items {
		nested, ok := item.(map[string]interface{})
		if !ok {
			return nil, errors.Errorf("%q item is not a parameter map", name)
		}
		nestedType, ok := nested["type"].(string)
		if !ok {
			return nil, errors.Errorf("%q item missing \"type\"", name)
		}
		b, err := store.Create(ctx, nestedType, nested)
		if err != nil {
			return nil, errors.Wrapf(err, "creating nested %s backend", name)
		}
		result = append(result, b)
	}
	return result, nil
}

func init() {
	store.Register("replica", func(ctx context.Context, conf map[string]interface{}) (store.Backend, error) {
		syncBackends, err := nestedList(ctx, conf, "sync")
		if err != nil {
			return nil, err
		}
		asyncBackends, err := nestedList(ctx, conf, "async")
		if err != nil {
			return nil, err
		}
		queueLen, ok := conf["queuelen"].(int)
		if !ok {
			queueLen = 10
		}
		// The async goroutines outlive the creating call,
		// so they run until Close.
		return New(context.Background(), syncBackends, asyncBackends, queueLen)
	})
}
