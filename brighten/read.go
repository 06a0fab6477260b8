package brighten

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/brightchain/brightchain"
	"github.com/brightchain/brightchain/cache"
	"github.com/brightchain/brightchain/cbl"
)

// Read reassembles the source described by the manifest block with hash manifestHash
// and writes it to w.
// Every reconstructed block is validated,
// and the output is checked against the manifest's source hash at the end.
func Read(ctx context.Context, m *cache.Manager, manifestHash brightchain.Hash, w io.Writer) (*cbl.Manifest, error) {
	man, err := m.Manifest(ctx, manifestHash)
	if err != nil {
		return nil, errors.Wrapf(err, "getting manifest %s", manifestHash)
	}
	chain, err := cbl.ConsolidateChain(man, m)
	if err != nil {
		return nil, err
	}
	defer chain.Close()

	if _, err = io.Copy(w, cbl.ReadValidatedBytes(ctx, chain, man)); err != nil {
		return nil, errors.Wrap(err, "reassembling source")
	}
	return man, nil
}

// ReadSource is like Read but finds the manifest through the hash of the source.
func ReadSource(ctx context.Context, m *cache.Manager, sourceHash brightchain.Hash, w io.Writer) (*cbl.Manifest, error) {
	handle, err := m.GetCbl(ctx, sourceHash)
	if err != nil {
		return nil, err
	}
	return Read(ctx, m, handle.ManifestHash, w)
}

// ReadCorrelation is like Read but finds the manifest of the latest version with the given correlation id.
func ReadCorrelation(ctx context.Context, m *cache.Manager, id uuid.UUID, w io.Writer) (*cbl.Manifest, error) {
	handle, err := m.GetCblByCorrelation(ctx, id)
	if err != nil {
		return nil, err
	}
	return Read(ctx, m, handle.ManifestHash, w)
}
