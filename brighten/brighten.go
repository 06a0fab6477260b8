// Package brighten disperses source streams into whitened tuples stored by a cache manager,
// and reassembles them.
//
// Writing splits the source into chunks of one block size,
// pads the last chunk,
// whitens each chunk into a tuple,
// stores every tuple member,
// and finally stores a CBL manifest listing the members in order.
// The manifest is indexed under the hash of the source
// and under its correlation id.
package brighten

import (
	"context"
	"hash"
	"io"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"

	"github.com/brightchain/brightchain"
	"github.com/brightchain/brightchain/cache"
	"github.com/brightchain/brightchain/cbl"
	"github.com/brightchain/brightchain/whiten"
)

// Writer is an io.WriteCloser that disperses its input into a cache manager.
// The manifest and its handle are available as Writer.Manifest and Writer.Handle after a call to Close.
type Writer struct {
	Ctx      context.Context
	Manifest *cbl.Manifest           // populated by Close
	Handle   brightchain.BrightHandle // populated by Close

	m          *cache.Manager
	size       brightchain.BlockSize
	tupleCount int
	contract   brightchain.StorageContract
	previous   *cbl.Manifest
	useTxn     bool

	tx       *cache.Transaction
	buf      []byte
	hashes   []brightchain.Hash
	manifest *brightchain.Hash // set once the manifest block is stored
	h      hash.Hash
	n      int64
	done   bool
}

// Option configures a Writer.
type Option func(*Writer)

// BlockSize sets the size of the blocks the source is split into.
// The default is brightchain.Message.
func BlockSize(s brightchain.BlockSize) Option {
	return func(w *Writer) {
		w.size = s
	}
}

// TupleCount sets the number of members in each tuple.
// The default is whiten.DefaultTupleCount.
func TupleCount(k int) Option {
	return func(w *Writer) {
		w.tupleCount = k
	}
}

// KeepUntil sets the keep-until time of every stored block.
func KeepUntil(t time.Time) Option {
	return func(w *Writer) {
		w.contract.KeepUntilAtLeast = t
	}
}

// Redundancy sets the redundancy kind of every stored block.
func Redundancy(r brightchain.RedundancyKind) Option {
	return func(w *Writer) {
		w.contract.Redundancy = r
	}
}

// Private marks the source as privately encrypted.
func Private() Option {
	return func(w *Writer) {
		w.contract.PrivateEncrypted = true
	}
}

// NewVersionOf makes the written source the next version of older.
// The new manifest shares older's correlation id
// and names older's source as its previous version.
func NewVersionOf(older *cbl.Manifest) Option {
	return func(w *Writer) {
		w.previous = older
	}
}

// Transactional makes the Writer hold every block in a manager transaction
// until Close,
// so that nothing reaches the backend if the write fails.
// The manager must have no other transaction active.
func Transactional() Option {
	return func(w *Writer) {
		w.useTxn = true
	}
}

// NewWriter produces a new Writer storing blocks in m.
// The given context object is stored in the Writer and used in subsequent calls to Write and Close.
func NewWriter(ctx context.Context, m *cache.Manager, opts ...Option) (*Writer, error) {
	w := &Writer{
		Ctx:        ctx,
		m:          m,
		size:       brightchain.Message,
		tupleCount: whiten.DefaultTupleCount,
		h:          sha3.New512(),
	}
	w.contract.RequestTime = m.Now()
	for _, opt := range opts {
		opt(w)
	}

	if err := whiten.CheckTupleCount(w.tupleCount); err != nil {
		return nil, err
	}
	if !w.size.Valid() {
		return nil, errors.Wrapf(brightchain.ErrStructure, "block size %d not in catalogue", uint32(w.size))
	}
	if k := w.contract.KeepUntilAtLeast; !k.IsZero() && k.Before(w.contract.RequestTime) {
		return nil, errors.Errorf("keep-until time %s is in the past", k)
	}
	if w.previous != nil && w.contract.RequestTime.Before(w.previous.RequestTime) {
		return nil, errors.Wrapf(brightchain.ErrStructure, "previous version requested at %s, after now", w.previous.RequestTime)
	}

	if w.useTxn {
		tx, err := m.NewTransaction()
		if err != nil {
			return nil, err
		}
		w.tx = tx
	}
	return w, nil
}

// Write implements io.Writer.
func (w *Writer) Write(inp []byte) (int, error) {
	if w.done {
		return 0, errors.New("write after close")
	}
	w.h.Write(inp)
	w.n += int64(len(inp))
	w.buf = append(w.buf, inp...)

	size := int(w.size)
	for len(w.buf) >= size {
		if err := w.storeChunk(w.buf[:size]); err != nil {
			w.abort()
			return 0, err
		}
		w.buf = append(w.buf[:0], w.buf[size:]...)
	}
	return len(inp), nil
}

func (w *Writer) storeChunk(chunk []byte) error {
	if len(w.hashes)+w.tupleCount > cbl.MaxBlocks {
		return errors.Wrapf(brightchain.ErrStructure, "source exceeds the capacity of one manifest at %s blocks", w.size)
	}

	padded, err := brightchain.Pad(chunk, w.size)
	if err != nil {
		return err
	}
	src, err := brightchain.NewBlock(brightchain.KindSource, padded, w.contract)
	if err != nil {
		return errors.Wrap(err, "constructing source block")
	}
	tuple, err := whiten.Whiten(src, w.tupleCount)
	if err != nil {
		return errors.Wrap(err, "whitening source block")
	}
	if err = w.m.SetAll(w.Ctx, tuple.Members); err != nil {
		return errors.Wrap(err, "storing tuple")
	}
	w.hashes = append(w.hashes, tuple.Hashes()...)
	return nil
}

// Close implements io.Closer.
// It stores the final partial chunk and the manifest,
// then indexes the manifest.
// An empty source is stored as a single padded chunk.
func (w *Writer) Close() error {
	if w.done {
		return nil
	}
	if err := w.finish(); err != nil {
		w.abort()
		return err
	}
	w.done = true
	return nil
}

func (w *Writer) finish() error {
	if len(w.buf) > 0 || len(w.hashes) == 0 {
		if err := w.storeChunk(w.buf); err != nil {
			return err
		}
		w.buf = nil
	}

	var sourceID brightchain.Hash
	copy(sourceID[:], w.h.Sum(nil))

	man, err := cbl.BuildManifest(w.hashes, w.tupleCount, sourceID, w.n, w.size)
	if err != nil {
		return err
	}
	man.RequestTime = w.contract.RequestTime
	man.PrivateEncrypted = w.contract.PrivateEncrypted
	if w.previous != nil {
		man.CorrelationID = w.previous.CorrelationID
		if err = cbl.UpdateVersion(man, w.previous); err != nil {
			return err
		}
	}

	mb, err := man.Block(w.contract)
	if err != nil {
		return errors.Wrap(err, "encoding manifest")
	}
	if err = w.m.Set(w.Ctx, mb, true); err != nil {
		return errors.Wrap(err, "storing manifest")
	}
	w.manifest = &mb.ID

	if w.tx != nil {
		ok, _, err := w.m.Commit(w.Ctx)
		w.tx = nil
		if err != nil {
			return errors.Wrap(err, "committing")
		}
		if !ok {
			return errors.New("transaction did not commit")
		}
	}

	handle := brightchain.BrightHandle{ManifestHash: mb.ID, SourceDataHash: sourceID}
	if err = w.m.SetCbl(w.Ctx, mb.ID, sourceID, handle); err != nil {
		return err
	}
	if err = w.m.SetCorrelation(w.Ctx, man.CorrelationID, sourceID); err != nil {
		return err
	}

	w.Manifest = man
	w.Handle = handle
	return nil
}

// abort undoes a failed write.
// Blocks held in a transaction are rolled back.
// Blocks already in the backend are dropped.
func (w *Writer) abort() {
	w.done = true
	if w.tx != nil {
		if _, _, err := w.m.Rollback(); err != nil {
			w.m.Logger().WithError(err).Error("rolling back write")
		}
		w.tx = nil
		return
	}

	ctx := context.WithoutCancel(w.Ctx)
	stored := w.hashes
	if w.manifest != nil {
		stored = append(stored, *w.manifest)
	}
	for _, h := range stored {
		if _, err := w.m.Drop(ctx, h, true); err != nil {
			w.m.Logger().WithError(err).WithField("hash", h.String()).Error("dropping block of failed write")
		}
	}
	w.hashes = nil
	w.manifest = nil
}

// Write disperses everything read from r into m.
// It is a shorthand for NewWriter, io.Copy, and Close.
func Write(ctx context.Context, m *cache.Manager, r io.Reader, opts ...Option) (*cbl.Manifest, brightchain.BrightHandle, error) {
	w, err := NewWriter(ctx, m, opts...)
	if err != nil {
		return nil, brightchain.BrightHandle{}, err
	}
	if _, err = io.Copy(w, r); err != nil {
		w.abort()
		return nil, brightchain.BrightHandle{}, errors.Wrap(err, "dispersing source")
	}
	if err = w.Close(); err != nil {
		return nil, brightchain.BrightHandle{}, err
	}
	return w.Manifest, w.Handle, nil
}
