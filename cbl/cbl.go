// Package cbl implements Constituent Block Lists:
// manifests naming, in order and grouped by tuple,
// every block needed to reconstruct a source stream.
package cbl

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/brightchain/brightchain"
	"github.com/brightchain/brightchain/whiten"
)

// Manifest is the content of a CBL block.
//
// Blocks holds TupleCount hashes per stripe,
// one stripe per block-sized chunk of the source,
// in source order.
// Within a stripe the first hash is the whitened block
// and the rest are its randomizers.
type Manifest struct {
	SourceID         brightchain.Hash
	TotalLength      int64
	TupleCount       int
	BlockSize        brightchain.BlockSize
	PrivateEncrypted bool

	// CorrelationID is shared by every version of one logical source.
	CorrelationID uuid.UUID

	// PreviousVersion is the SourceID of the version this one supersedes,
	// or the zero hash.
	PreviousVersion brightchain.Hash

	RequestTime time.Time
	Blocks      []brightchain.Hash
}

// MaxBlocks is the largest number of hashes a manifest may list.
// The capacity of the largest block is reduced by room for the manifest header.
var MaxBlocks = brightchain.Large.HashesPerBlock() - headerRoom/brightchain.HashSize

const headerRoom = 512

// BuildManifest produces a manifest for a source of totalLength bytes
// split into blocks of the given size.
// The manifest gets a fresh correlation id.
//
// It is a structural error if the number of hashes is not a multiple of tupleCount,
// or does not agree with totalLength and size.
func BuildManifest(hashes []brightchain.Hash, tupleCount int, sourceID brightchain.Hash, totalLength int64, size brightchain.BlockSize) (*Manifest, error) {
	m := &Manifest{
		SourceID:      sourceID,
		TotalLength:   totalLength,
		TupleCount:    tupleCount,
		BlockSize:     size,
		CorrelationID: uuid.New(),
		Blocks:        hashes,
	}
	if err := m.Check(); err != nil {
		return nil, err
	}
	return m, nil
}

// Check verifies the manifest's structural invariants.
func (m *Manifest) Check() error {
	if err := whiten.CheckTupleCount(m.TupleCount); err != nil {
		return err
	}
	if !m.BlockSize.Valid() {
		return errors.Wrapf(brightchain.ErrStructure, "block size %d not in catalogue", uint32(m.BlockSize))
	}
	if len(m.Blocks) == 0 {
		return errors.Wrap(brightchain.ErrStructure, "manifest lists no blocks")
	}
	if len(m.Blocks)%m.TupleCount != 0 {
		return errors.Wrapf(brightchain.ErrStructure, "%d hashes is not a multiple of tuple count %d", len(m.Blocks), m.TupleCount)
	}
	if len(m.Blocks) > MaxBlocks {
		return errors.Wrapf(brightchain.ErrStructure, "%d hashes exceeds manifest capacity %d", len(m.Blocks), MaxBlocks)
	}

	var (
		stripes = int64(m.Stripes())
		size    = int64(m.BlockSize)
		lo      = (stripes-1)*size + 1
	)
	if stripes == 1 {
		// An empty source still occupies one padded stripe.
		lo = 0
	}
	if m.TotalLength < lo || m.TotalLength > stripes*size {
		return errors.Wrapf(brightchain.ErrStructure, "total length %d does not fit %d stripes of %d bytes", m.TotalLength, stripes, size)
	}
	return nil
}

// Stripes is the number of tuple stripes in the manifest.
func (m *Manifest) Stripes() int {
	if m.TupleCount == 0 {
		return 0
	}
	return len(m.Blocks) / m.TupleCount
}

// UpdateVersion links newer to older as its next version.
// The two must share a correlation id,
// and newer must not have been requested before older.
// On success newer.PreviousVersion is older.SourceID.
func UpdateVersion(newer, older *Manifest) error {
	if newer.CorrelationID != older.CorrelationID {
		return errors.Wrapf(brightchain.ErrStructure, "correlation id %s does not match %s", newer.CorrelationID, older.CorrelationID)
	}
	if newer.RequestTime.Before(older.RequestTime) {
		return errors.Wrapf(brightchain.ErrStructure, "new version requested at %s, before previous version at %s", newer.RequestTime, older.RequestTime)
	}
	newer.PreviousVersion = older.SourceID
	return nil
}
