package brightchain

import (
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// BrightHandle correlates a CBL block with the hash of the data it represents.
type BrightHandle struct {
	ManifestHash   Hash
	SourceDataHash Hash
}

// MarshalBinary encodes h as the two hashes back to back.
func (h BrightHandle) MarshalBinary() ([]byte, error) {
	out := make([]byte, 2*HashSize)
	copy(out, h.ManifestHash[:])
	copy(out[HashSize:], h.SourceDataHash[:])
	return out, nil
}

// UnmarshalBinary decodes the output of MarshalBinary.
func (h *BrightHandle) UnmarshalBinary(b []byte) error {
	if len(b) != 2*HashSize {
		return errors.Errorf("handle record has length %d, want %d", len(b), 2*HashSize)
	}
	copy(h.ManifestHash[:], b[:HashSize])
	copy(h.SourceDataHash[:], b[HashSize:])
	return nil
}

// RootSize is the size of a root block.
const RootSize = Nano

// NamespaceName derives a store's namespace name from its root identifier.
func NamespaceName(id uuid.UUID) string {
	h := Sum(id[:])
	return "bc-" + hex.EncodeToString(h[:16])
}

// NewRootBlock produces the root block for a store identifier.
// Its bytes are the identifier followed by zeros,
// so the same identifier always yields the same root block.
func NewRootBlock(id uuid.UUID, contract StorageContract) (*Block, error) {
	data := make([]byte, RootSize)
	copy(data, id[:])
	return NewBlock(KindRoot, data, contract)
}

// RootID extracts the store identifier from a root block.
func RootID(b *Block) (uuid.UUID, error) {
	if b.Kind != KindRoot {
		return uuid.Nil, errors.Errorf("%s is not a root block", b)
	}
	return uuid.FromBytes(b.Data[:16])
}
