// Package testutil contains conformance tests that every backend must pass.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/brightchain/brightchain"
	"github.com/brightchain/brightchain/store"
)

// Backend exercises the store.Backend contract on an empty backend.
func Backend(ctx context.Context, t *testing.T, b store.Backend) {
	t.Run("not_found", func(t *testing.T) {
		_, err := b.Get(ctx, []byte("absent"))
		require.True(t, errors.Is(err, brightchain.ErrNotFound), "got %v", err)

		ok, err := b.Has(ctx, []byte("absent"))
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, b.Delete(ctx, []byte("absent")))
	})

	t.Run("put_get_delete", func(t *testing.T) {
		key := []byte("pgd/key")
		require.NoError(t, b.Put(ctx, key, []byte("one")))

		ok, err := b.Has(ctx, key)
		require.NoError(t, err)
		require.True(t, ok)

		got, err := b.Get(ctx, key)
		require.NoError(t, err)
		require.Equal(t, []byte("one"), got)

		require.NoError(t, b.Put(ctx, key, []byte("two")))
		got, err = b.Get(ctx, key)
		require.NoError(t, err)
		require.Equal(t, []byte("two"), got)

		require.NoError(t, b.Delete(ctx, key))
		_, err = b.Get(ctx, key)
		require.True(t, errors.Is(err, brightchain.ErrNotFound), "got %v", err)
	})

	t.Run("binary_keys", func(t *testing.T) {
		key := []byte{'k', '/', 0, 0xff, 0x80, '/', 1}
		val := []byte{0, 1, 2, 0xfe, 0xff}
		require.NoError(t, b.Put(ctx, key, val))
		got, err := b.Get(ctx, key)
		require.NoError(t, err)
		require.Equal(t, val, got)
	})

	t.Run("scan", func(t *testing.T) {
		want := ScanFixture(ctx, t, b, "scan/")

		var got []store.KV
		err := b.Scan(ctx, []byte("scan/"), func(key, val []byte) error {
			got = append(got, store.KV{Key: append([]byte(nil), key...), Val: append([]byte(nil), val...)})
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, want, got)
	})

	t.Run("scan_stops", func(t *testing.T) {
		ScanFixture(ctx, t, b, "stop/")

		stop := errors.New("stop")
		var n int
		err := b.Scan(ctx, []byte("stop/"), func(_, _ []byte) error {
			n++
			if n == 3 {
				return stop
			}
			return nil
		})
		require.True(t, errors.Is(err, stop), "got %v", err)
		require.Equal(t, 3, n)
	})

	if mp, ok := b.(store.MultiPutter); ok {
		t.Run("put_multi", func(t *testing.T) {
			var kvs []store.KV
			for i := 0; i < 20; i++ {
				kvs = append(kvs, store.KV{Key: []byte(fmt.Sprintf("multi/%02d", i)), Val: []byte{byte(i)}})
			}
			require.NoError(t, mp.PutMulti(ctx, kvs))
			for _, kv := range kvs {
				got, err := b.Get(ctx, kv.Key)
				require.NoError(t, err)
				require.Equal(t, kv.Val, got)
			}
		})
	}
}

// ScanFixture puts a set of pairs beneath prefix,
// plus some decoys that share part of it,
// and returns the pairs in the order Scan must produce them.
func ScanFixture(ctx context.Context, t *testing.T, b store.Backend, prefix string) []store.KV {
	t.Helper()

	var want []store.KV
	for _, suffix := range []string{"b", "a", "ab", "c\x00", "c", "\xff", "0"} {
		kv := store.KV{Key: []byte(prefix + suffix), Val: []byte("v" + suffix)}
		require.NoError(t, b.Put(ctx, kv.Key, kv.Val))
		want = append(want, kv)
	}

	// Decoys.
	short := prefix[:len(prefix)-1]
	require.NoError(t, b.Put(ctx, []byte(short), []byte("decoy")))
	require.NoError(t, b.Put(ctx, []byte(short+"~"), []byte("decoy")))

	sort.Slice(want, func(i, j int) bool { return bytes.Compare(want[i].Key, want[j].Key) < 0 })
	return want
}

// Checkpoint checkpoints src, recovers the result into the empty backend dst,
// and checks that dst then holds everything src does.
func Checkpoint(ctx context.Context, t *testing.T, src, dst store.Backend) {
	srcCP, ok := src.(store.Checkpointer)
	require.True(t, ok, "%T does not implement Checkpointer", src)
	dstCP, ok := dst.(store.Checkpointer)
	require.True(t, ok, "%T does not implement Checkpointer", dst)

	want := ScanFixture(ctx, t, src, "ckpt/")

	buf := new(bytes.Buffer)
	require.NoError(t, srcCP.Checkpoint(ctx, buf))
	require.NoError(t, dstCP.Recover(ctx, buf))

	var got []store.KV
	err := dst.Scan(ctx, []byte("ckpt/"), func(key, val []byte) error {
		got = append(got, store.KV{Key: append([]byte(nil), key...), Val: append([]byte(nil), val...)})
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, want, got)
}
