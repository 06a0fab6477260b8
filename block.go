package brightchain

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Kind tags the variant of a block.
// It is written into the block's metadata record
// and selects the constructor used when the block is read back.
type Kind uint8

const (
	KindRaw Kind = iota
	KindSource
	KindRandomizer
	KindWhitened
	KindCBL
	KindRoot

	numKinds
)

func (k Kind) Valid() bool { return k < numKinds }

func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindSource:
		return "source"
	case KindRandomizer:
		return "randomizer"
	case KindWhitened:
		return "whitened"
	case KindCBL:
		return "cbl"
	case KindRoot:
		return "root"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// RedundancyKind says how a block is meant to be protected against loss.
type RedundancyKind uint8

const (
	RedundancyNone RedundancyKind = iota
	RedundancyReplication
	RedundancyReedSolomon

	numRedundancyKinds
)

func (r RedundancyKind) Valid() bool { return r < numRedundancyKinds }

func (r RedundancyKind) String() string {
	switch r {
	case RedundancyNone:
		return "none"
	case RedundancyReplication:
		return "replication"
	case RedundancyReedSolomon:
		return "reed-solomon"
	}
	return fmt.Sprintf("redundancy(%d)", uint8(r))
}

// StorageContract is the storage agreement attached to a block.
type StorageContract struct {
	RequestTime      time.Time
	KeepUntilAtLeast time.Time
	ByteCount        int
	PrivateEncrypted bool
	Redundancy       RedundancyKind
}

// Block is the unit of storage.
//
// A Block is immutable once constructed.
// Methods that "change" a block,
// like WithContract,
// return a modified copy.
type Block struct {
	ID       Hash
	Size     BlockSize
	Kind     Kind
	Data     []byte
	Contract StorageContract

	// Signature is a placeholder for a creator signature.
	// It is carried through the metadata record but never checked here.
	Signature []byte

	// Revocations is a list of opaque revocation certificates.
	Revocations [][]byte
}

// NewBlock produces a block of the given kind holding data.
// The block's ID and ByteCount are computed from data.
//
// The new block is validated.
// If it has defects the block is still returned,
// together with an *InvalidBlockError listing all of them.
func NewBlock(kind Kind, data []byte, contract StorageContract) (*Block, error) {
	contract.ByteCount = len(data)
	size, _ := SizeOf(len(data))
	b := &Block{
		ID:       Sum(data),
		Size:     size,
		Kind:     kind,
		Data:     data,
		Contract: contract,
	}
	if ok, errs := Validate(b); !ok {
		return b, &InvalidBlockError{ID: b.ID, Errs: errs}
	}
	return b, nil
}

// RandomBlock produces a randomizer block of the given size
// filled from a cryptographically strong source.
func RandomBlock(size BlockSize, contract StorageContract) (*Block, error) {
	if !size.Valid() {
		return nil, errors.Wrapf(ErrStructure, "block size %d not in catalogue", uint32(size))
	}
	data := make([]byte, size)
	if _, err := rand.Read(data); err != nil {
		return nil, errors.Wrap(err, "reading random bytes")
	}
	return NewBlock(KindRandomizer, data, contract)
}

// Pad returns data extended to size bytes with random filler.
// It is an error if data is already longer than size.
func Pad(data []byte, size BlockSize) ([]byte, error) {
	if len(data) > int(size) {
		return nil, errors.Wrapf(ErrStructure, "%d bytes do not fit in a %s block", len(data), size)
	}
	out := make([]byte, size)
	n := copy(out, data)
	if _, err := rand.Read(out[n:]); err != nil {
		return nil, errors.Wrap(err, "reading random padding")
	}
	return out, nil
}

// WithContract returns a copy of b with a different storage contract.
// The ByteCount of the new contract is forced to match the data.
func (b *Block) WithContract(c StorageContract) *Block {
	c.ByteCount = len(b.Data)
	out := *b
	out.Contract = c
	return &out
}

// WithKind returns a copy of b tagged with a different kind.
func (b *Block) WithKind(k Kind) *Block {
	out := *b
	out.Kind = k
	return &out
}

func (b *Block) String() string {
	return fmt.Sprintf("%s block %s (%s)", b.Kind, b.ID, b.Size)
}
