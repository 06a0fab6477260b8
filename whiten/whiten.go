// Package whiten implements the XOR whitening of blocks
// and its inverse.
//
// A source block is whitened by XORing it with k-1 freshly generated random blocks.
// The result,
// together with the randomizers,
// is a tuple of k blocks whose XOR is the source block again.
// Each member of a tuple is an ordinary content-addressed block
// that reveals nothing about the source by itself.
package whiten

import (
	"crypto/subtle"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/brightchain/brightchain"
)

// DefaultTupleCount is the number of members in a tuple when nothing else is configured.
const DefaultTupleCount = 5

// MinTupleCount is the smallest legal tuple:
// one whitened block and one randomizer.
const MinTupleCount = 2

// Tuple is a set of blocks of one size that XOR together to a source block.
// Members[0] is the whitened block;
// the rest are randomizers.
type Tuple struct {
	Members []*brightchain.Block
}

// Hashes returns the member hashes in order.
func (t Tuple) Hashes() []brightchain.Hash {
	out := make([]brightchain.Hash, 0, len(t.Members))
	for _, m := range t.Members {
		out = append(out, m.ID)
	}
	return out
}

// CheckTupleCount reports a structural error unless n is a legal tuple size.
func CheckTupleCount(n int) error {
	if n < MinTupleCount {
		return errors.Wrapf(brightchain.ErrStructure, "tuple count %d is less than %d", n, MinTupleCount)
	}
	return nil
}

// Whiten produces a tuple for src.
// It generates tupleCount-1 independent random blocks the size of src
// and XORs them all into src.
// Every member of the result carries src's storage contract.
func Whiten(src *brightchain.Block, tupleCount int) (Tuple, error) {
	if err := CheckTupleCount(tupleCount); err != nil {
		return Tuple{}, err
	}
	if !src.Size.Valid() {
		return Tuple{}, errors.Wrapf(brightchain.ErrStructure, "source block %s has no catalogue size", src.ID)
	}

	randomizers := make([]*brightchain.Block, tupleCount-1)

	var eg errgroup.Group
	for i := range randomizers {
		i := i
		eg.Go(func() error {
			r, err := brightchain.RandomBlock(src.Size, src.Contract)
			if err != nil {
				return errors.Wrapf(err, "generating randomizer %d", i)
			}
			randomizers[i] = r
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Tuple{}, err
	}

	return WhitenWith(src, randomizers)
}

// WhitenWith is like Whiten but uses the given randomizers
// instead of generating new ones.
// This allows randomizers to be shared between tuples.
func WhitenWith(src *brightchain.Block, randomizers []*brightchain.Block) (Tuple, error) {
	if err := CheckTupleCount(len(randomizers) + 1); err != nil {
		return Tuple{}, err
	}

	seen := map[brightchain.Hash]struct{}{src.ID: {}}
	data := make([]byte, len(src.Data))
	copy(data, src.Data)

	for _, r := range randomizers {
		if r.Size != src.Size || len(r.Data) != len(data) {
			return Tuple{}, errors.Wrapf(brightchain.ErrStructure, "randomizer %s is %s, source is %s", r.ID, r.Size, src.Size)
		}
		if _, ok := seen[r.ID]; ok {
			return Tuple{}, errors.Wrapf(brightchain.ErrStructure, "block %s appears twice in tuple", r.ID)
		}
		seen[r.ID] = struct{}{}
		XOR(data, r.Data)
	}

	whitened, err := brightchain.NewBlock(brightchain.KindWhitened, data, src.Contract)
	if err != nil {
		return Tuple{}, errors.Wrap(err, "constructing whitened block")
	}
	if _, ok := seen[whitened.ID]; ok {
		return Tuple{}, errors.Wrapf(brightchain.ErrStructure, "whitened block %s collides with a tuple member", whitened.ID)
	}

	members := make([]*brightchain.Block, 0, len(randomizers)+1)
	members = append(members, whitened)
	members = append(members, randomizers...)

	return Tuple{Members: members}, nil
}

// Consolidate XORs the members of a tuple together,
// producing the block they encode.
//
// A member whose hash was already seen is skipped rather than XORed a second time.
// It is a structural error if the number of distinct members is not tupleCount,
// or if members differ in size.
func Consolidate(members []*brightchain.Block, tupleCount int) (*brightchain.Block, error) {
	if err := CheckTupleCount(tupleCount); err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, errors.Wrap(brightchain.ErrStructure, "empty tuple")
	}

	var (
		size     = members[0].Size
		contract = members[0].Contract
		data     = make([]byte, len(members[0].Data))
		seen     = make(map[brightchain.Hash]struct{}, len(members))
	)
	for _, m := range members {
		if m.Size != size || len(m.Data) != len(data) {
			return nil, errors.Wrapf(brightchain.ErrStructure, "tuple member %s is %s, want %s", m.ID, m.Size, size)
		}
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		XOR(data, m.Data)
	}
	if len(seen) != tupleCount {
		return nil, errors.Wrapf(brightchain.ErrStructure, "tuple has %d distinct members, want %d", len(seen), tupleCount)
	}

	return brightchain.NewBlock(brightchain.KindSource, data, contract)
}

// XOR sets dst[i] ^= src[i] for every i.
// It panics if the slices differ in length.
func XOR(dst, src []byte) {
	if len(dst) != len(src) {
		panic("whiten: XOR of unequal-length buffers")
	}
	subtle.XORBytes(dst, dst, src)
}
