package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// MultiErr is the type of error returned by PutMulti.
// It maps individual keys (as strings) to errors encountered trying to put them.
type MultiErr map[string]error

// Error implements the error interface.
func (e MultiErr) Error() string {
	var strs []string
	for key, err := range e {
		strs = append(strs, fmt.Sprintf("%x: %s", key, err))
	}
	sort.Strings(strs)
	return "error(s): " + strings.Join(strs, "; ")
}

// Unwrap lets errors.Is and errors.As see the per-key errors.
func (e MultiErr) Unwrap() []error {
	keys := make([]string, 0, len(e))
	for key := range e {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	errs := make([]error, 0, len(keys))
	for _, key := range keys {
		errs = append(errs, e[key])
	}
	return errs
}

// PutMulti stores multiple pairs with a single call.
// By default this is implemented as a bunch of concurrent individual Put calls.
// However, if b implements MultiPutter, its PutMulti method is used instead.
// The returned error may be a MultiErr,
// mapping keys to errors encountered writing those specific pairs.
func PutMulti(ctx context.Context, b Backend, kvs []KV) error {
	if m, ok := b.(MultiPutter); ok {
		return m.PutMulti(ctx, kvs)
	}

	type pair struct {
		key []byte
		err error
	}

	ch := make(chan pair)

	for _, kv := range kvs {
		kv := kv
		go func() {
			err := b.Put(ctx, kv.Key, kv.Val)
			ch <- pair{key: kv.Key, err: err}
		}()
	}

	var errmap MultiErr

	for i := 0; i < len(kvs); i++ {
		p := <-ch
		if p.err != nil {
			if errmap == nil {
				errmap = make(MultiErr)
			}
			errmap[string(p.key)] = p.err
		}
	}

	if errmap == nil {
		return nil
	}
	return errmap
}
