package cache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/brightchain/brightchain"
)

// AddExpiration puts b in the expiration bucket of its keep-until time.
// A block with no keep-until time never expires and is not indexed.
// Unless skipCheck is true,
// it is an error matching brightchain.ErrNotFound if b is not stored.
func (m *Manager) AddExpiration(ctx context.Context, b *brightchain.Block, skipCheck bool) error {
	k := b.Contract.KeepUntilAtLeast
	if k.IsZero() {
		return nil
	}
	if !skipCheck {
		ok, err := m.Contains(ctx, b.ID)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrapf(brightchain.ErrNotFound, "block %s", b.ID)
		}
	}
	return errors.Wrapf(m.b.Put(ctx, expireKey(Bucket(k), b.ID), []byte{}), "indexing expiration of %s", b.ID)
}

// RemoveExpiration takes b out of the expiration bucket of its keep-until time.
func (m *Manager) RemoveExpiration(ctx context.Context, b *brightchain.Block) error {
	k := b.Contract.KeepUntilAtLeast
	if k.IsZero() {
		return nil
	}
	return errors.Wrapf(m.b.Delete(ctx, expireKey(Bucket(k), b.ID)), "unindexing expiration of %s", b.ID)
}

// GetBlocksExpiringAt lists the blocks in the expiration bucket containing t.
func (m *Manager) GetBlocksExpiringAt(ctx context.Context, t time.Time) ([]brightchain.Hash, error) {
	var result []brightchain.Hash
	err := m.b.Scan(ctx, bucketPrefix(Bucket(t)), func(key, _ []byte) error {
		_, h, err := parseExpireKey(key)
		if err != nil {
			return err
		}
		result = append(result, h)
		return nil
	})
	return result, errors.Wrapf(err, "scanning expiration bucket %d", Bucket(t))
}

var errStop = errors.New("stop")

type expiration struct {
	bucket uint64
	h      brightchain.Hash
}

// ExpireBlocksThrough drops every block in every expiration bucket up to and including the one containing t.
// It returns the number of blocks dropped.
//
// An entry whose block has since moved to a later bucket,
// or no longer exists,
// is removed without dropping anything.
func (m *Manager) ExpireBlocksThrough(ctx context.Context, t time.Time) (int, error) {
	return m.ExpireBlocksThroughExcept(ctx, t, nil)
}

// ExpireBlocksThroughExcept is like ExpireBlocksThrough
// but does not drop blocks for which keep returns true.
// Their expiration entries stay in place.
// A nil keep keeps nothing.
func (m *Manager) ExpireBlocksThroughExcept(ctx context.Context, t time.Time, keep func(context.Context, brightchain.Hash) (bool, error)) (int, error) {
	limit := Bucket(t)

	var due []expiration
	err := m.b.Scan(ctx, []byte(expirePrefix), func(key, _ []byte) error {
		bucket, h, err := parseExpireKey(key)
		if err != nil {
			return err
		}
		if bucket > limit {
			return errStop
		}
		due = append(due, expiration{bucket: bucket, h: h})
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return 0, errors.Wrap(err, "scanning expiration index")
	}

	var n int
	for _, e := range due {
		log := m.log.WithFields(logrus.Fields{"hash": e.h.String(), "bucket": e.bucket})

		md, err := m.Metadata(ctx, e.h)
		if errors.Is(err, brightchain.ErrNotFound) {
			log.Debug("removing dangling expiration entry")
			if err = m.b.Delete(ctx, expireKey(e.bucket, e.h)); err != nil {
				return n, errors.Wrapf(err, "removing expiration entry for %s", e.h)
			}
			continue
		}
		if err != nil {
			return n, err
		}
		if k := md.Contract.KeepUntilAtLeast; k.IsZero() || Bucket(k) != e.bucket {
			log.Debug("removing stale expiration entry")
			if err = m.b.Delete(ctx, expireKey(e.bucket, e.h)); err != nil {
				return n, errors.Wrapf(err, "removing expiration entry for %s", e.h)
			}
			continue
		}

		if keep != nil {
			kept, err := keep(ctx, e.h)
			if err != nil {
				return n, errors.Wrapf(err, "checking whether to keep %s", e.h)
			}
			if kept {
				log.Debug("keeping expired block")
				continue
			}
		}

		if _, err = m.Drop(ctx, e.h, true); err != nil {
			return n, errors.Wrapf(err, "dropping expired block %s", e.h)
		}
		n++
	}

	m.log.WithFields(logrus.Fields{"through": t, "count": n}).Info("expired blocks")
	return n, nil
}

// ExpireNow is ExpireBlocksThrough the manager clock's current time.
func (m *Manager) ExpireNow(ctx context.Context) (int, error) {
	return m.ExpireBlocksThrough(ctx, m.clock.Now())
}

// ExtendStorage stores a copy of b whose contract keeps it until keepUntil,
// with a new redundancy kind if redundancy is non-nil.
// The copy has the same hash as b; b itself is unchanged.
//
// The old expiration entry is removed before the new one is added.
// The two steps are not atomic.
func (m *Manager) ExtendStorage(ctx context.Context, b *brightchain.Block, keepUntil time.Time, redundancy *brightchain.RedundancyKind) (*brightchain.Block, error) {
	c := b.Contract
	c.KeepUntilAtLeast = keepUntil
	if redundancy != nil {
		c.Redundancy = *redundancy
	}
	nb := b.WithContract(c)
	if ok, errs := brightchain.Validate(nb); !ok {
		return nil, &brightchain.InvalidBlockError{ID: nb.ID, Errs: errs}
	}

	if err := m.RemoveExpiration(ctx, b); err != nil {
		return nil, err
	}
	if err := m.AddExpiration(ctx, nb, true); err != nil {
		return nil, err
	}
	if err := m.Set(ctx, nb, true); err != nil {
		return nil, errors.Wrapf(err, "storing extended %s", nb)
	}
	return nb, nil
}
