package cache

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"

	"github.com/brightchain/brightchain"
	"github.com/brightchain/brightchain/cbl"
	"github.com/brightchain/brightchain/store"
	"github.com/brightchain/brightchain/store/mem"
	"github.com/brightchain/brightchain/txn"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newManager(t *testing.T) (*Manager, *mem.Store, *clock.TestClock) {
	t.Helper()

	b := mem.New()
	tc := clock.NewTestClock(t0)
	m, err := New(Config{Backend: b, Clock: tc})
	require.NoError(t, err)
	return m, b, tc
}

func newBlock(t *testing.T, keepUntil time.Time) *brightchain.Block {
	t.Helper()

	b, err := brightchain.RandomBlock(brightchain.Nano, brightchain.StorageContract{
		RequestTime:      t0,
		KeepUntilAtLeast: keepUntil,
	})
	require.NoError(t, err)
	return b
}

func TestSetGet(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t)
	b := newBlock(t, time.Time{})

	ok, err := m.Contains(ctx, b.ID)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.Set(ctx, b, false))

	ok, err = m.Contains(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := m.Get(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, b.ID, got.ID)
	require.Equal(t, b.Data, got.Data)
	require.Equal(t, b.Kind, got.Kind)
	require.True(t, got.Contract.RequestTime.Equal(t0))

	err = m.Set(ctx, b, false)
	require.True(t, errors.Is(err, brightchain.ErrConflict), "got %v", err)

	require.NoError(t, m.Set(ctx, b, true))

	// Nothing is left pending.
	_, pending := m.Status(b.ID)
	require.False(t, pending)
}

func TestSetInvalid(t *testing.T) {
	ctx := context.Background()
	m, backend, _ := newManager(t)

	b := newBlock(t, time.Time{})
	bad := *b
	bad.Data = append([]byte(nil), b.Data...)
	bad.Data[0] ^= 1
	bad.Contract.Redundancy = 99

	err := m.Set(ctx, &bad, false)
	require.True(t, errors.Is(err, brightchain.ErrInvalid), "got %v", err)

	var ibe *brightchain.InvalidBlockError
	require.True(t, errors.As(err, &ibe))
	require.Len(t, ibe.Errs, 2)
	require.Equal(t, 0, backend.Len())
}

func TestGetMiss(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t)
	obs := NewChanObserver(4)
	m.Subscribe(obs)

	h := brightchain.Sum([]byte("absent"))
	_, err := m.Get(ctx, h)
	require.True(t, errors.Is(err, brightchain.ErrNotFound), "got %v", err)

	select {
	case ev := <-obs.Events():
		require.Equal(t, Event{Type: CacheMiss, Hash: h}, ev)
	default:
		t.Fatal("no cache miss event")
	}
}

func TestDrop(t *testing.T) {
	ctx := context.Background()
	m, backend, _ := newManager(t)
	obs := NewChanObserver(8)
	m.Subscribe(obs)

	b := newBlock(t, t0.Add(time.Hour))

	ok, err := m.Drop(ctx, b.ID, false)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.Set(ctx, b, false))
	require.Equal(t, 3, backend.Len()) // data, metadata, expiration

	ok, err = m.Drop(ctx, b.ID, false)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0, backend.Len())

	_, err = m.Get(ctx, b.ID)
	require.True(t, errors.Is(err, brightchain.ErrNotFound), "got %v", err)

	// Dropping an absent block without checking is harmless.
	ok, err = m.Drop(ctx, b.ID, true)
	require.NoError(t, err)
	require.True(t, ok)

	var types []EventType
	for len(obs.Events()) > 0 {
		types = append(types, (<-obs.Events()).Type)
	}
	require.Equal(t, []EventType{KeyAdded, KeyRemoved, CacheMiss}, types)
}

func TestSetAll(t *testing.T) {
	ctx := context.Background()
	m, backend, _ := newManager(t)
	obs := NewChanObserver(8)
	m.Subscribe(obs)

	b1 := newBlock(t, time.Time{})
	b2 := newBlock(t, time.Time{})
	require.NoError(t, m.Set(ctx, b1, false))

	require.NoError(t, m.SetAll(ctx, []*brightchain.Block{b1, b2, b2}))
	require.Equal(t, 4, backend.Len())
	require.Len(t, obs.Events(), 2)

	for _, b := range []*brightchain.Block{b1, b2} {
		ok, err := m.Contains(ctx, b.ID)
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestDoNotWrite(t *testing.T) {
	ctx := context.Background()
	m, backend, _ := newManager(t)

	bb := m.Adopt(newBlock(t, time.Time{}), false)
	require.Equal(t, txn.DoNotWrite, bb.Status())
	require.Same(t, m, bb.Manager())

	err := bb.Persist(ctx, false)
	require.True(t, errors.Is(err, brightchain.ErrState), "got %v", err)
	require.Equal(t, 0, backend.Len())

	other, _, _ := newManager(t)
	bb = other.Adopt(newBlock(t, time.Time{}), true)
	require.Error(t, m.set(ctx, bb, false))
}

func TestTransaction(t *testing.T) {
	ctx := context.Background()
	m, backend, _ := newManager(t)

	tx, err := m.NewTransaction()
	require.NoError(t, err)
	require.True(t, tx.Started.Equal(t0))

	_, err = m.NewTransaction()
	require.True(t, errors.Is(err, brightchain.ErrConflict), "got %v", err)

	b1 := newBlock(t, time.Time{})
	bb := m.Adopt(newBlock(t, time.Time{}), true)
	require.NoError(t, m.Set(ctx, b1, false))
	require.NoError(t, bb.Persist(ctx, false))

	// Visible but not yet written.
	got, err := m.Get(ctx, b1.ID)
	require.NoError(t, err)
	require.Equal(t, b1.Data, got.Data)
	require.Equal(t, 0, backend.Len())

	status, ok := m.Status(b1.ID)
	require.True(t, ok)
	require.Equal(t, txn.Uncommitted, status)
	require.ElementsMatch(t, []brightchain.Hash{b1.ID, bb.ID}, m.Pending(txn.Uncommitted))

	ok, done, err := m.Commit(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Same(t, tx, done)
	require.Equal(t, []brightchain.Hash{b1.ID, bb.ID}, done.Blocks())
	require.Equal(t, txn.Committed, bb.Status())
	require.Equal(t, 4, backend.Len())
	require.Empty(t, m.Pending(txn.Uncommitted))

	_, _, err = m.Commit(ctx)
	require.True(t, errors.Is(err, brightchain.ErrState), "got %v", err)

	// A new transaction may begin once the old one is over.
	_, err = m.NewTransaction()
	require.NoError(t, err)
}

func TestRollback(t *testing.T) {
	ctx := context.Background()
	m, backend, _ := newManager(t)

	_, _, err := m.Rollback()
	require.True(t, errors.Is(err, brightchain.ErrState), "got %v", err)

	_, err = m.NewTransaction()
	require.NoError(t, err)

	bb := m.Adopt(newBlock(t, time.Time{}), true)
	require.NoError(t, bb.Persist(ctx, false))

	ok, done, err := m.Rollback()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []brightchain.Hash{bb.ID}, done.Blocks())
	require.Equal(t, txn.RolledBackDoNotWrite, bb.Status())

	_, err = m.Get(ctx, bb.ID)
	require.True(t, errors.Is(err, brightchain.ErrNotFound), "got %v", err)
	require.Equal(t, 0, backend.Len())

	err = bb.Persist(ctx, false)
	require.True(t, errors.Is(err, brightchain.ErrState), "got %v", err)
}

func TestDropPending(t *testing.T) {
	ctx := context.Background()
	m, backend, _ := newManager(t)

	_, err := m.NewTransaction()
	require.NoError(t, err)

	bb := m.Adopt(newBlock(t, time.Time{}), true)
	require.NoError(t, bb.Persist(ctx, false))

	ok, err := m.Drop(ctx, bb.ID, false)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, txn.RolledBackDoNotWrite, bb.Status())

	ok, done, err := m.Commit(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, done.Blocks())
	require.Equal(t, 0, backend.Len())
}

// failingMeta fails every Put of a metadata record while fail is set.
// It hides the MultiPutter of the backend it wraps.
type failingMeta struct {
	store.Backend
	fail bool
}

func (f *failingMeta) Put(ctx context.Context, key, val []byte) error {
	if f.fail && bytes.HasPrefix(key, []byte(metaPrefix)) {
		return errors.New("injected failure")
	}
	return f.Backend.Put(ctx, key, val)
}

func TestCommitFailure(t *testing.T) {
	ctx := context.Background()
	backend := mem.New()
	fm := &failingMeta{Backend: backend}
	m, err := New(Config{Backend: fm})
	require.NoError(t, err)

	existing := newBlock(t, time.Time{})
	require.NoError(t, m.Set(ctx, existing, false))
	require.Equal(t, 2, backend.Len())

	_, err = m.NewTransaction()
	require.NoError(t, err)

	fresh := m.Adopt(newBlock(t, time.Time{}), true)
	require.NoError(t, fresh.Persist(ctx, false))
	updated := m.Adopt(existing, true)
	require.NoError(t, updated.Persist(ctx, true))

	fm.fail = true
	ok, _, err := m.Commit(ctx)
	require.Error(t, err)
	require.False(t, ok)

	require.Equal(t, txn.RolledBackRewrite, fresh.Status())
	require.Equal(t, txn.RolledBackRewrite, updated.Status())

	// The new block's data record was removed; the existing block is untouched.
	ok, err = m.Contains(ctx, fresh.ID)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 2, backend.Len())

	got, err := m.Get(ctx, existing.ID)
	require.NoError(t, err)
	require.Equal(t, existing.Data, got.Data)

	// A rolled-back-for-rewrite block may be stored again.
	fm.fail = false
	require.NoError(t, fresh.Persist(ctx, false))
	require.Equal(t, txn.Committed, fresh.Status())
}

func TestExpiration(t *testing.T) {
	ctx := context.Background()
	m, _, tc := newManager(t)

	keep := t0.Add(time.Hour)
	b := newBlock(t, keep)

	err := m.AddExpiration(ctx, b, false)
	require.True(t, errors.Is(err, brightchain.ErrNotFound), "got %v", err)

	require.NoError(t, m.Set(ctx, b, false))

	hashes, err := m.GetBlocksExpiringAt(ctx, keep)
	require.NoError(t, err)
	require.Equal(t, []brightchain.Hash{b.ID}, hashes)

	require.NoError(t, m.RemoveExpiration(ctx, b))
	hashes, err = m.GetBlocksExpiringAt(ctx, keep)
	require.NoError(t, err)
	require.Empty(t, hashes)

	require.NoError(t, m.AddExpiration(ctx, b, false))

	// Blocks with no keep-until time are never indexed.
	forever := newBlock(t, time.Time{})
	require.NoError(t, m.Set(ctx, forever, false))
	require.NoError(t, m.AddExpiration(ctx, forever, false))

	n, err := m.ExpireNow(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	tc.SetTime(keep)
	n, err = m.ExpireNow(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	ok, err := m.Contains(ctx, b.ID)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = m.Contains(ctx, forever.ID)
	require.NoError(t, err)
	require.True(t, ok)

	n, err = m.ExpireBlocksThrough(ctx, keep.Add(24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestExpireManyBuckets(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t)

	var blocks []*brightchain.Block
	for i := 1; i <= 5; i++ {
		b := newBlock(t, t0.Add(time.Duration(i)*time.Minute))
		require.NoError(t, m.Set(ctx, b, false))
		blocks = append(blocks, b)
	}

	n, err := m.ExpireBlocksThrough(ctx, t0.Add(3*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 3, n)

	for i, b := range blocks {
		ok, err := m.Contains(ctx, b.ID)
		require.NoError(t, err)
		require.Equal(t, i >= 3, ok, "block %d", i)
	}
}

func TestExtendStorage(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t)

	keep1 := t0.Add(time.Hour)
	keep2 := t0.Add(48 * time.Hour)
	b := newBlock(t, keep1)
	require.NoError(t, m.Set(ctx, b, false))

	repl := brightchain.RedundancyReplication
	nb, err := m.ExtendStorage(ctx, b, keep2, &repl)
	require.NoError(t, err)
	require.Equal(t, b.ID, nb.ID)
	require.True(t, b.Contract.KeepUntilAtLeast.Equal(keep1))
	require.Equal(t, brightchain.RedundancyNone, b.Contract.Redundancy)

	hashes, err := m.GetBlocksExpiringAt(ctx, keep1)
	require.NoError(t, err)
	require.Empty(t, hashes)
	hashes, err = m.GetBlocksExpiringAt(ctx, keep2)
	require.NoError(t, err)
	require.Equal(t, []brightchain.Hash{b.ID}, hashes)

	got, err := m.Get(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, got.Contract.KeepUntilAtLeast.Equal(keep2))
	require.Equal(t, brightchain.RedundancyReplication, got.Contract.Redundancy)

	n, err := m.ExpireBlocksThrough(ctx, keep1)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	_, err = m.ExtendStorage(ctx, b, t0.Add(-time.Hour), nil)
	require.True(t, errors.Is(err, brightchain.ErrInvalid), "got %v", err)
}

func TestUpdateReplacesExpiration(t *testing.T) {
	ctx := context.Background()
	m, backend, _ := newManager(t)

	keep1 := t0.Add(time.Hour)
	keep2 := t0.Add(2 * time.Hour)
	b := newBlock(t, keep1)
	require.NoError(t, m.Set(ctx, b, false))

	c := b.Contract
	c.KeepUntilAtLeast = keep2
	require.NoError(t, m.Set(ctx, b.WithContract(c), true))

	hashes, err := m.GetBlocksExpiringAt(ctx, keep1)
	require.NoError(t, err)
	require.Empty(t, hashes)
	hashes, err = m.GetBlocksExpiringAt(ctx, keep2)
	require.NoError(t, err)
	require.Equal(t, []brightchain.Hash{b.ID}, hashes)

	// Same bucket: the entry stays.
	c.KeepUntilAtLeast = keep2.Add(time.Millisecond)
	require.NoError(t, m.Set(ctx, b.WithContract(c), true))
	hashes, err = m.GetBlocksExpiringAt(ctx, keep2)
	require.NoError(t, err)
	require.Equal(t, []brightchain.Hash{b.ID}, hashes)

	// Keep forever: no entry at all.
	c.KeepUntilAtLeast = time.Time{}
	require.NoError(t, m.Set(ctx, b.WithContract(c), true))
	err = backend.Scan(ctx, []byte(expirePrefix), func(key, _ []byte) error {
		return errors.New("unexpected expiration entry")
	})
	require.NoError(t, err)
}

func TestUpdateInTransactionReplacesExpiration(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t)

	keep1 := t0.Add(time.Hour)
	keep2 := t0.Add(2 * time.Hour)
	b := newBlock(t, keep1)
	require.NoError(t, m.Set(ctx, b, false))

	_, err := m.NewTransaction()
	require.NoError(t, err)
	c := b.Contract
	c.KeepUntilAtLeast = keep2
	require.NoError(t, m.Set(ctx, b.WithContract(c), true))

	hashes, err := m.GetBlocksExpiringAt(ctx, keep1)
	require.NoError(t, err)
	require.Equal(t, []brightchain.Hash{b.ID}, hashes)

	ok, _, err := m.Commit(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	hashes, err = m.GetBlocksExpiringAt(ctx, keep1)
	require.NoError(t, err)
	require.Empty(t, hashes)
}

func TestStaleExpirationEntry(t *testing.T) {
	ctx := context.Background()
	m, backend, _ := newManager(t)

	keep1 := t0.Add(time.Hour)
	keep2 := t0.Add(2 * time.Hour)
	b := newBlock(t, keep1)
	require.NoError(t, m.Set(ctx, b, false))

	c := b.Contract
	c.KeepUntilAtLeast = keep2
	require.NoError(t, m.Set(ctx, b.WithContract(c), true))

	// An entry left behind by an interrupted update.
	require.NoError(t, backend.Put(ctx, expireKey(Bucket(keep1), b.ID), []byte{}))

	n, err := m.ExpireBlocksThrough(ctx, keep1)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	hashes, err := m.GetBlocksExpiringAt(ctx, keep1)
	require.NoError(t, err)
	require.Empty(t, hashes)

	ok, err := m.Contains(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestBucket(t *testing.T) {
	require.Equal(t, uint64(0), Bucket(time.Unix(-100, 0)))
	require.Equal(t, uint64(1000), Bucket(time.Unix(1000, 999999999)))
	require.Equal(t, Bucket(t0), Bucket(t0.Add(time.Millisecond)))
}

func TestCblIndex(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t)

	manifestHash := brightchain.Sum([]byte("manifest"))
	sourceHash := brightchain.Sum([]byte("source"))
	handle := brightchain.BrightHandle{ManifestHash: manifestHash, SourceDataHash: sourceHash}

	_, err := m.GetCbl(ctx, sourceHash)
	require.True(t, errors.Is(err, brightchain.ErrNotFound), "got %v", err)

	err = m.SetCbl(ctx, manifestHash, brightchain.Sum([]byte("other")), handle)
	require.True(t, errors.Is(err, brightchain.ErrConflict), "got %v", err)
	err = m.SetCbl(ctx, brightchain.Sum([]byte("other")), sourceHash, handle)
	require.True(t, errors.Is(err, brightchain.ErrConflict), "got %v", err)

	require.NoError(t, m.SetCbl(ctx, manifestHash, sourceHash, handle))
	got, err := m.GetCbl(ctx, sourceHash)
	require.NoError(t, err)
	require.Equal(t, handle, got)

	id := uuid.New()
	_, err = m.GetCblByCorrelation(ctx, id)
	require.True(t, errors.Is(err, brightchain.ErrNotFound), "got %v", err)

	require.NoError(t, m.SetCorrelation(ctx, id, sourceHash))
	got, err = m.GetCblByCorrelation(ctx, id)
	require.NoError(t, err)
	require.Equal(t, handle, got)
}

func TestUpdateVersion(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t)

	id := uuid.New()
	older := &cbl.Manifest{SourceID: brightchain.Sum([]byte("v1")), CorrelationID: id, RequestTime: t0}
	newer := &cbl.Manifest{SourceID: brightchain.Sum([]byte("v2")), CorrelationID: id, RequestTime: t0.Add(time.Minute)}

	require.NoError(t, m.UpdateVersion(ctx, newer, older))
	require.Equal(t, older.SourceID, newer.PreviousVersion)

	latest, err := m.Latest(ctx, id)
	require.NoError(t, err)
	require.Equal(t, newer.SourceID, latest)

	stranger := &cbl.Manifest{SourceID: brightchain.Sum([]byte("v3")), CorrelationID: uuid.New(), RequestTime: t0.Add(time.Hour)}
	err = m.UpdateVersion(ctx, stranger, newer)
	require.True(t, errors.Is(err, brightchain.ErrStructure), "got %v", err)

	latest, err = m.Latest(ctx, id)
	require.NoError(t, err)
	require.Equal(t, newer.SourceID, latest)
}

func TestCheckpoint(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t)

	b := newBlock(t, t0.Add(time.Hour))
	require.NoError(t, m.Set(ctx, b, false))

	buf := new(bytes.Buffer)
	require.NoError(t, m.Checkpoint(ctx, buf))

	m2, _, _ := newManager(t)
	require.NoError(t, m2.Recover(ctx, buf))

	got, err := m2.Get(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, b.Data, got.Data)

	hashes, err := m2.GetBlocksExpiringAt(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, []brightchain.Hash{b.ID}, hashes)
}

func TestChanObserverDrops(t *testing.T) {
	obs := NewChanObserver(1)
	h := brightchain.Sum(nil)
	obs.KeyAdded(h)
	obs.KeyRemoved(h)
	obs.CacheMiss(h)

	require.Equal(t, int64(2), obs.Dropped())
	require.Equal(t, Event{Type: KeyAdded, Hash: h}, <-obs.Events())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	backend := mem.New()

	var gotPath string
	m, err := Open(ctx, OpenConfig{
		BasePath: base,
		NewBackend: func(_ context.Context, path string) (store.Backend, error) {
			gotPath = path
			return backend, nil
		},
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, m.RootID())
	require.Equal(t, brightchain.NamespaceName(m.RootID()), m.Namespace())
	require.Equal(t, filepath.Join(base, m.Namespace()), gotPath)

	rb, err := brightchain.NewRootBlock(m.RootID(), brightchain.StorageContract{})
	require.NoError(t, err)
	got, err := m.Get(ctx, rb.ID)
	require.NoError(t, err)
	require.Equal(t, brightchain.KindRoot, got.Kind)

	// Reopening finds the same root.
	m2, err := Open(ctx, OpenConfig{Config: Config{Backend: backend}, BasePath: base, Namespace: m.Namespace()})
	require.NoError(t, err)
	require.Equal(t, m.RootID(), m2.RootID())

	_, err = os.Stat(filepath.Join(base, rootFileName))
	require.NoError(t, err)

	// A configured namespace must match.
	_, err = Open(ctx, OpenConfig{Config: Config{Backend: backend}, BasePath: base, Namespace: "bc-wrong"})
	require.True(t, errors.Is(err, brightchain.ErrConflict), "got %v", err)

	// A backend belongs to one root.
	_, err = Open(ctx, OpenConfig{Config: Config{Backend: backend}, BasePath: t.TempDir()})
	require.True(t, errors.Is(err, brightchain.ErrConflict), "got %v", err)
}

func TestLoadRootNotDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, nil, 0644))
	_, _, err := LoadRoot(path, "")
	require.Error(t, err)

	_, _, err = LoadRoot(filepath.Join(t.TempDir(), "absent"), "")
	require.Error(t, err)
}
