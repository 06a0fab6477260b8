package gc

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/brightchain/brightchain"
	"github.com/brightchain/brightchain/cache"
)

// Keep is a set of block hashes to protect from collection.
type Keep interface {
	// Add adds a single hash to the Keep.
	// It returns true if it was newly added and false if it was already present.
	Add(context.Context, brightchain.Hash) (bool, error)

	// Contains tells whether a hash is in the Keep.
	Contains(context.Context, brightchain.Hash) (bool, error)
}

// MapKeep is an in-memory Keep.
type MapKeep struct {
	mu sync.Mutex
	m  map[brightchain.Hash]struct{}
}

var _ Keep = &MapKeep{}

// NewMapKeep produces an empty MapKeep.
func NewMapKeep() *MapKeep {
	return &MapKeep{m: make(map[brightchain.Hash]struct{})}
}

// Add implements Keep.
func (k *MapKeep) Add(_ context.Context, h brightchain.Hash) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.m[h]; ok {
		return false, nil
	}
	k.m[h] = struct{}{}
	return true, nil
}

// Contains implements Keep.
func (k *MapKeep) Contains(_ context.Context, h brightchain.Hash) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.m[h]
	return ok, nil
}

// Len is the number of hashes in the Keep.
func (k *MapKeep) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.m)
}

// Protect adds a manifest block's hash to the Keep,
// together with the hash of every block the manifest lists.
//
// It is not an error for m to have no block for manifestHash.
func Protect(ctx context.Context, k Keep, m *cache.Manager, manifestHash brightchain.Hash) error {
	added, err := k.Add(ctx, manifestHash)
	if err != nil {
		return errors.Wrapf(err, "adding %s", manifestHash)
	}
	if !added {
		return nil
	}

	man, err := m.Manifest(ctx, manifestHash)
	if errors.Is(err, brightchain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "getting manifest %s", manifestHash)
	}
	for _, h := range man.Blocks {
		if _, err = k.Add(ctx, h); err != nil {
			return errors.Wrapf(err, "adding %s", h)
		}
	}
	return nil
}

// ProtectLatest protects the latest version of each source with one of the given correlation ids.
// Earlier versions are not protected.
// Correlation ids with no recorded version are skipped.
func ProtectLatest(ctx context.Context, k Keep, m *cache.Manager, ids ...uuid.UUID) error {
	for _, id := range ids {
		handle, err := m.GetCblByCorrelation(ctx, id)
		if errors.Is(err, brightchain.ErrNotFound) {
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "resolving correlation %s", id)
		}
		if err = Protect(ctx, k, m, handle.ManifestHash); err != nil {
			return err
		}
	}
	return nil
}
