package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/brightchain/brightchain"
)

// Transaction is a group of blocks written together.
// Its members are guarded by the owning manager's mutex.
type Transaction struct {
	ID      uuid.UUID
	Started time.Time

	members []*BrightenedBlock
}

func (t *Transaction) enlist(bb *BrightenedBlock) {
	for i, other := range t.members {
		if other.ID == bb.ID {
			t.members[i] = bb
			return
		}
	}
	t.members = append(t.members, bb)
}

func (t *Transaction) remove(bb *BrightenedBlock) {
	for i, other := range t.members {
		if other == bb {
			t.members = append(t.members[:i], t.members[i+1:]...)
			return
		}
	}
}

// Blocks lists the hashes of the transaction's members in the order they were enlisted.
// It should be called only after the transaction has finished.
func (t *Transaction) Blocks() []brightchain.Hash {
	result := make([]brightchain.Hash, 0, len(t.members))
	for _, bb := range t.members {
		result = append(result, bb.ID)
	}
	return result
}

// NewTransaction starts a transaction.
// It is an error matching brightchain.ErrConflict if one is already active.
func (m *Manager) NewTransaction() (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, errors.Wrapf(brightchain.ErrConflict, "transaction %s already active", m.active.ID)
	}
	m.active = &Transaction{ID: uuid.New(), Started: m.clock.Now()}
	m.log.WithField("txn", m.active.ID).Debug("began transaction")
	return m.active, nil
}

func (m *Manager) finish() (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.active
	if t == nil {
		return nil, errors.Wrap(brightchain.ErrState, "no active transaction")
	}
	m.active = nil
	return t, nil
}

// Commit writes every member of the active transaction and ends it.
// It is an error matching brightchain.ErrState if no transaction is active.
//
// If the backend write fails the whole transaction is rolled back,
// members that were new to the backend are removed from it,
// and the result is false with the failure.
func (m *Manager) Commit(ctx context.Context) (bool, *Transaction, error) {
	t, err := m.finish()
	if err != nil {
		return false, nil, err
	}

	log := m.log.WithFields(logrus.Fields{"txn": t.ID, "count": len(t.members)})
	if len(t.members) > 0 {
		if err = m.commitBlocks(ctx, t.members); err != nil {
			log.WithError(err).Error("transaction rolled back")
			return false, t, err
		}
	}
	log.Debug("committed transaction")
	return true, t, nil
}

// Rollback abandons the active transaction.
// Its members leave the overlay and may not be written again.
// It is an error matching brightchain.ErrState if no transaction is active.
func (m *Manager) Rollback() (bool, *Transaction, error) {
	t, err := m.finish()
	if err != nil {
		return false, nil, err
	}

	var firstErr error
	for _, bb := range t.members {
		if _, err := bb.state.Rollback(false); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "rolling back %s", bb.Block)
		}
	}
	m.forget(t.members)

	m.log.WithFields(logrus.Fields{"txn": t.ID, "count": len(t.members)}).Debug("rolled back transaction")
	return firstErr == nil, t, firstErr
}
