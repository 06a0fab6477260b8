package cbl

import (
	"context"
	"hash"
	"io"
	"iter"

	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
	"golang.org/x/sync/errgroup"

	"github.com/brightchain/brightchain"
	"github.com/brightchain/brightchain/whiten"
)

// Getter is where chain members are fetched from.
type Getter interface {
	Get(context.Context, brightchain.Hash) (*brightchain.Block, error)
}

// GroupIntoStripes yields consecutive groups of tupleCount hashes.
// A trailing group shorter than tupleCount is not yielded.
func GroupIntoStripes(hashes []brightchain.Hash, tupleCount int) iter.Seq[[]brightchain.Hash] {
	return func(yield func([]brightchain.Hash) bool) {
		if tupleCount <= 0 {
			return
		}
		for i := 0; i+tupleCount <= len(hashes); i += tupleCount {
			if !yield(hashes[i : i+tupleCount]) {
				return
			}
		}
	}
}

// StripeReader fetches the tuples of a manifest one stripe at a time.
type StripeReader struct {
	m    *Manifest
	g    Getter
	next func() ([]brightchain.Hash, bool)
	stop func()
}

// ReconstructStripes produces a StripeReader for m.
// It is a structural error if m lists no blocks
// or a number of blocks that is not a multiple of its tuple count.
func ReconstructStripes(m *Manifest, g Getter) (*StripeReader, error) {
	if err := whiten.CheckTupleCount(m.TupleCount); err != nil {
		return nil, err
	}
	if len(m.Blocks) == 0 {
		return nil, errors.Wrap(brightchain.ErrStructure, "manifest lists no blocks")
	}
	if len(m.Blocks)%m.TupleCount != 0 {
		return nil, errors.Wrapf(brightchain.ErrStructure, "%d hashes is not a multiple of tuple count %d", len(m.Blocks), m.TupleCount)
	}
	next, stop := iter.Pull(GroupIntoStripes(m.Blocks, m.TupleCount))
	return &StripeReader{m: m, g: g, next: next, stop: stop}, nil
}

// Next fetches the members of the next stripe, concurrently.
// It returns io.EOF after the last stripe.
func (r *StripeReader) Next(ctx context.Context) (whiten.Tuple, error) {
	hashes, ok := r.next()
	if !ok {
		r.stop()
		return whiten.Tuple{}, io.EOF
	}

	members := make([]*brightchain.Block, len(hashes))
	eg, ctx := errgroup.WithContext(ctx)
	for i, h := range hashes {
		i, h := i, h
		eg.Go(func() error {
			b, err := r.g.Get(ctx, h)
			if err != nil {
				return errors.Wrapf(err, "getting tuple member %s", h)
			}
			if b.Size != r.m.BlockSize {
				return errors.Wrapf(brightchain.ErrStructure, "tuple member %s is %s, manifest says %s", h, b.Size, r.m.BlockSize)
			}
			members[i] = b
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return whiten.Tuple{}, err
	}
	return whiten.Tuple{Members: members}, nil
}

// Close releases the reader's resources.
// It is needed only when the reader is abandoned before io.EOF.
func (r *StripeReader) Close() {
	r.stop()
}

// ChainReader yields the consolidated source blocks of a manifest in order.
type ChainReader struct {
	stripes    *StripeReader
	tupleCount int
}

// ConsolidateChain produces a ChainReader
// that XORs each stripe of m back into its source block.
func ConsolidateChain(m *Manifest, g Getter) (*ChainReader, error) {
	s, err := ReconstructStripes(m, g)
	if err != nil {
		return nil, err
	}
	return &ChainReader{stripes: s, tupleCount: m.TupleCount}, nil
}

// Next returns the next source block,
// or io.EOF after the last one.
func (r *ChainReader) Next(ctx context.Context) (*brightchain.Block, error) {
	tuple, err := r.stripes.Next(ctx)
	if err != nil {
		return nil, err
	}
	return whiten.Consolidate(tuple.Members, r.tupleCount)
}

// Close releases the reader's resources.
func (r *ChainReader) Close() {
	r.stripes.Close()
}

// BlockSource is anything that yields blocks until io.EOF.
// *ChainReader is one.
type BlockSource interface {
	Next(context.Context) (*brightchain.Block, error)
}

// ReadValidatedBytes returns a reader over the source bytes described by m.
// Each block from src is validated again before its bytes are released;
// a block that fails produces a *brightchain.ChainValidationError.
// Output is trimmed to m.TotalLength,
// and at the end the stream is checked against m.SourceID.
func ReadValidatedBytes(ctx context.Context, src BlockSource, m *Manifest) io.Reader {
	return &validatedReader{
		ctx:    ctx,
		src:    src,
		m:      m,
		remain: m.TotalLength,
		h:      sha3.New512(),
	}
}

type validatedReader struct {
	ctx    context.Context
	src    BlockSource
	m      *Manifest
	buf    []byte
	remain int64
	blocks int
	h      hash.Hash
	err    error
}

func (r *validatedReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		r.err = r.fill()
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *validatedReader) fill() error {
	b, err := r.src.Next(r.ctx)
	if errors.Is(err, io.EOF) {
		return r.finish()
	}
	if err != nil {
		return err
	}
	if ok, errs := brightchain.Validate(b); !ok {
		return &brightchain.ChainValidationError{ID: b.ID, Errs: errs}
	}
	r.blocks++
	if r.blocks > r.m.Stripes() {
		return errors.Wrapf(brightchain.ErrStructure, "chain has more than %d blocks", r.m.Stripes())
	}

	data := b.Data
	if int64(len(data)) > r.remain {
		data = data[:r.remain]
	}
	r.remain -= int64(len(data))
	r.h.Write(data)
	r.buf = data
	return nil
}

func (r *validatedReader) finish() error {
	if r.remain != 0 {
		return errors.Wrapf(brightchain.ErrStructure, "chain ended %d bytes short of total length %d", r.remain, r.m.TotalLength)
	}
	var got brightchain.Hash
	r.h.Sum(got[:0])
	if got != r.m.SourceID {
		return errors.Wrapf(brightchain.ErrStructure, "reconstructed stream hashes to %s, want %s", got, r.m.SourceID)
	}
	return io.EOF
}
