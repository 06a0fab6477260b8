package store

import (
	"bytes"
	"context"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Sync synchronizes two or more backends.
// It scans all of them in parallel.
// When a key is found in some but not all backends,
// its value is copied to the backends where it's missing.
// When backends disagree about the value of a key,
// the first backend (in argument order) holding it wins.
func Sync(ctx context.Context, backends []Backend) error {
	if len(backends) < 2 {
		return nil
	}

	type tuple struct {
		n   int
		b   Backend
		ch  <-chan KV
		cur *KV
	}

	eg, ctx2 := errgroup.WithContext(ctx)

	tuples := make([]*tuple, 0, len(backends))
	for i, b := range backends {
		b := b
		ch := make(chan KV)
		eg.Go(func() error {
			defer close(ch)
			return b.Scan(ctx2, nil, func(key, val []byte) error {
				kv := KV{
					Key: append([]byte(nil), key...),
					Val: append([]byte(nil), val...),
				}
				select {
				case <-ctx2.Done():
					return ctx2.Err()
				case ch <- kv:
				}
				return nil
			})
		})
		tuples = append(tuples, &tuple{n: i, b: b, ch: ch})
	}

	errch := make(chan error, 1)

	go func() {
		errch <- eg.Wait()
		close(errch)
	}()

	havers := tuples
	for {
		var any bool
		for _, tup := range havers {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case kv, ok := <-tup.ch:
				if ok {
					any = true
					tup.cur = &kv
				} else {
					tup.cur = nil
				}
			}
		}
		if !any {
			// We've reached the end of input on all channels.
			for _, tup := range tuples {
				if tup.cur != nil {
					any = true
					break
				}
			}
			if !any {
				return <-errch
			}
		}

		sort.Slice(tuples, func(i, j int) bool {
			ci, cj := tuples[i].cur, tuples[j].cur
			if ci == nil {
				return false
			}
			if cj == nil {
				return true
			}
			if c := bytes.Compare(ci.Key, cj.Key); c != 0 {
				return c < 0
			}
			return tuples[i].n < tuples[j].n
		})

		kv := *tuples[0].cur

		havers = []*tuple{tuples[0]}
		i := 1
		for i < len(tuples) && tuples[i].cur != nil && bytes.Equal(tuples[i].cur.Key, kv.Key) {
			havers = append(havers, tuples[i])
			i++
		}

		for _, tup := range tuples[i:] {
			if err := tup.b.Put(ctx, kv.Key, kv.Val); err != nil {
				return errors.Wrapf(err, "copying %x to backend %d", kv.Key, tup.n)
			}
		}
	}
}
