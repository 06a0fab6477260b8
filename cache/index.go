package cache

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/brightchain/brightchain"
	"github.com/brightchain/brightchain/cbl"
)

// GetCbl gets the handle indexed under the hash of a source.
func (m *Manager) GetCbl(ctx context.Context, sourceHash brightchain.Hash) (brightchain.BrightHandle, error) {
	var handle brightchain.BrightHandle

	rec, err := m.b.Get(ctx, handleKey(sourceHash))
	if errors.Is(err, brightchain.ErrNotFound) {
		m.notifyMiss(sourceHash)
		return handle, errors.Wrapf(brightchain.ErrNotFound, "handle for source %s", sourceHash)
	}
	if err != nil {
		return handle, errors.Wrapf(err, "getting handle for source %s", sourceHash)
	}
	err = handle.UnmarshalBinary(rec)
	return handle, errors.Wrapf(err, "decoding handle for source %s", sourceHash)
}

// SetCbl indexes handle under sourceHash.
// It is an error matching brightchain.ErrConflict
// unless the handle names exactly manifestHash and sourceHash.
func (m *Manager) SetCbl(ctx context.Context, manifestHash, sourceHash brightchain.Hash, handle brightchain.BrightHandle) error {
	if handle.ManifestHash != manifestHash {
		return errors.Wrapf(brightchain.ErrConflict, "handle names manifest %s, not %s", handle.ManifestHash, manifestHash)
	}
	if handle.SourceDataHash != sourceHash {
		return errors.Wrapf(brightchain.ErrConflict, "handle names source %s, not %s", handle.SourceDataHash, sourceHash)
	}
	rec, err := handle.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "encoding handle")
	}
	return errors.Wrapf(m.b.Put(ctx, handleKey(sourceHash), rec), "storing handle for source %s", sourceHash)
}

// SetCorrelation records sourceHash as the latest version of the source with the given correlation id.
func (m *Manager) SetCorrelation(ctx context.Context, id uuid.UUID, sourceHash brightchain.Hash) error {
	return errors.Wrapf(m.b.Put(ctx, correlationKey(id), sourceHash[:]), "storing correlation %s", id)
}

// Latest gets the source hash of the latest version recorded for a correlation id.
func (m *Manager) Latest(ctx context.Context, id uuid.UUID) (brightchain.Hash, error) {
	rec, err := m.b.Get(ctx, correlationKey(id))
	if errors.Is(err, brightchain.ErrNotFound) {
		return brightchain.Zero, errors.Wrapf(brightchain.ErrNotFound, "correlation %s", id)
	}
	if err != nil {
		return brightchain.Zero, errors.Wrapf(err, "getting correlation %s", id)
	}
	return brightchain.HashFromBytes(rec)
}

// GetCblByCorrelation resolves a correlation id to the handle of its latest version.
func (m *Manager) GetCblByCorrelation(ctx context.Context, id uuid.UUID) (brightchain.BrightHandle, error) {
	h, err := m.Latest(ctx, id)
	if err != nil {
		return brightchain.BrightHandle{}, err
	}
	return m.GetCbl(ctx, h)
}

// UpdateVersion links newer to older (see cbl.UpdateVersion)
// and records newer as the latest version for their correlation id.
func (m *Manager) UpdateVersion(ctx context.Context, newer, older *cbl.Manifest) error {
	if err := cbl.UpdateVersion(newer, older); err != nil {
		return err
	}
	return m.SetCorrelation(ctx, newer.CorrelationID, newer.SourceID)
}

// Manifest gets and decodes the manifest block with the given hash.
func (m *Manager) Manifest(ctx context.Context, manifestHash brightchain.Hash) (*cbl.Manifest, error) {
	b, err := m.Get(ctx, manifestHash)
	if err != nil {
		return nil, err
	}
	return cbl.FromBlock(b)
}
