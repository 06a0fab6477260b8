// Package cache implements the cache manager,
// which stores brightchain blocks and their indexes in a store.Backend.
//
// A Manager keeps an overlay of blocks that have been handed to it
// but not yet durably written,
// so that a block is visible to Get as soon as Set returns.
// Blocks in the overlay carry a txn.State;
// they leave the overlay once committed or rolled back.
//
// At most one Transaction may be active on a Manager at a time.
// While one is active,
// Set enlists blocks in it instead of writing them immediately.
package cache

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/brightchain/brightchain"
	"github.com/brightchain/brightchain/store"
	"github.com/brightchain/brightchain/txn"
)

// Config configures a Manager.
type Config struct {
	// Backend is where blocks and indexes are kept. Required.
	Backend store.Backend

	// Clock supplies the current time.
	// Defaults to clock.NewDefaultClock().
	Clock clock.Clock

	// Logger defaults to logrus.New().
	Logger *logrus.Logger

	// Observers are notified of additions, removals, and misses.
	Observers []Observer
}

// Manager is a cache manager.
// It is safe for concurrent use.
type Manager struct {
	b     store.Backend
	clock clock.Clock
	log   *logrus.Logger

	mu        sync.Mutex
	overlay   map[brightchain.Hash]*BrightenedBlock
	active    *Transaction
	observers []Observer

	rootID    uuid.UUID
	namespace string
}

// New produces a new Manager.
func New(conf Config) (*Manager, error) {
	if conf.Backend == nil {
		return nil, errors.New("no backend configured")
	}
	m := &Manager{
		b:         conf.Backend,
		clock:     conf.Clock,
		log:       conf.Logger,
		overlay:   make(map[brightchain.Hash]*BrightenedBlock),
		observers: append([]Observer(nil), conf.Observers...),
	}
	if m.clock == nil {
		m.clock = clock.NewDefaultClock()
	}
	if m.log == nil {
		m.log = logrus.New()
	}
	return m, nil
}

// BrightenedBlock is a block owned by a Manager,
// together with its transaction state.
type BrightenedBlock struct {
	*brightchain.Block

	m     *Manager
	state *txn.State

	// updateOnly is true when the block replaced an existing record.
	// Such a block is not deleted if its write fails.
	updateOnly bool

	// prevKeep is the keep-until time of the record an update replaces.
	prevKeep time.Time
}

// Adopt wraps b as a BrightenedBlock owned by m.
// If allowCommit is false the block can never be persisted.
func (m *Manager) Adopt(b *brightchain.Block, allowCommit bool) *BrightenedBlock {
	return &BrightenedBlock{Block: b, m: m, state: txn.NewState(allowCommit)}
}

// Status is the block's transaction status.
func (bb *BrightenedBlock) Status() txn.Status {
	return bb.state.Status()
}

// Manager is the manager that owns bb.
func (bb *BrightenedBlock) Manager() *Manager {
	return bb.m
}

// Persist hands bb to its manager for storage.
// See Manager.Set.
func (bb *BrightenedBlock) Persist(ctx context.Context, updateMetadataOnly bool) error {
	return bb.m.set(ctx, bb, updateMetadataOnly)
}

// Contains tells whether the block with hash h is pending in the overlay or present in the backend.
func (m *Manager) Contains(ctx context.Context, h brightchain.Hash) (bool, error) {
	m.mu.Lock()
	_, ok := m.overlay[h]
	m.mu.Unlock()
	if ok {
		return true, nil
	}
	ok, err := m.b.Has(ctx, metaKey(h))
	return ok, errors.Wrapf(err, "checking for %s", h)
}

// Get gets the block with hash h.
// Pending blocks in the overlay are returned without consulting the backend.
// If the block is absent,
// observers are told of the miss
// and the error wraps brightchain.ErrNotFound.
func (m *Manager) Get(ctx context.Context, h brightchain.Hash) (*brightchain.Block, error) {
	m.mu.Lock()
	bb, ok := m.overlay[h]
	m.mu.Unlock()
	if ok {
		return bb.Block, nil
	}

	meta, err := m.b.Get(ctx, metaKey(h))
	if errors.Is(err, brightchain.ErrNotFound) {
		m.notifyMiss(h)
		return nil, errors.Wrapf(brightchain.ErrNotFound, "block %s", h)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "getting metadata for %s", h)
	}
	data, err := m.b.Get(ctx, dataKey(h))
	if errors.Is(err, brightchain.ErrNotFound) {
		m.notifyMiss(h)
		return nil, errors.Wrapf(brightchain.ErrNotFound, "data for block %s", h)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "getting data for %s", h)
	}
	return brightchain.Decode(meta, data)
}

// Metadata gets the metadata record of the block with hash h
// without reading its data.
func (m *Manager) Metadata(ctx context.Context, h brightchain.Hash) (*brightchain.Metadata, error) {
	m.mu.Lock()
	bb, ok := m.overlay[h]
	m.mu.Unlock()
	if ok {
		return &brightchain.Metadata{
			ID:          bb.ID,
			Size:        bb.Size,
			Kind:        bb.Kind,
			Contract:    bb.Contract,
			Signature:   bb.Signature,
			Revocations: bb.Revocations,
		}, nil
	}

	rec, err := m.b.Get(ctx, metaKey(h))
	if errors.Is(err, brightchain.ErrNotFound) {
		m.notifyMiss(h)
		return nil, errors.Wrapf(brightchain.ErrNotFound, "block %s", h)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "getting metadata for %s", h)
	}
	return brightchain.UnmarshalMetadata(rec)
}

// Set stores b.
//
// The block is validated first;
// an invalid block yields an *brightchain.InvalidBlockError.
// Unless updateMetadataOnly is true,
// it is an error matching brightchain.ErrConflict if the block is already present.
//
// If a transaction is active,
// b is enlisted in it and written when it commits.
// Otherwise b is written and committed before Set returns.
func (m *Manager) Set(ctx context.Context, b *brightchain.Block, updateMetadataOnly bool) error {
	return m.set(ctx, m.Adopt(b, true), updateMetadataOnly)
}

func (m *Manager) set(ctx context.Context, bb *BrightenedBlock, updateMetadataOnly bool) error {
	if bb.m != m {
		return errors.Errorf("%s belongs to another manager", bb.Block)
	}
	if ok, errs := brightchain.Validate(bb.Block); !ok {
		return &brightchain.InvalidBlockError{ID: bb.ID, Errs: errs}
	}
	if !bb.state.AllowCommit() {
		return errors.Wrapf(brightchain.ErrState, "storing %s (status %s)", bb.Block, bb.state.Status())
	}

	exists, err := m.Contains(ctx, bb.ID)
	if err != nil {
		return err
	}
	if exists && !updateMetadataOnly {
		return errors.Wrapf(brightchain.ErrConflict, "%s already stored", bb.Block)
	}
	bb.updateOnly = exists
	if exists {
		prev, err := m.Metadata(ctx, bb.ID)
		if err != nil {
			return err
		}
		bb.prevKeep = prev.Contract.KeepUntilAtLeast
	}

	m.mu.Lock()
	m.overlay[bb.ID] = bb
	if m.active != nil {
		m.active.enlist(bb)
		id := m.active.ID
		m.mu.Unlock()
		m.log.WithFields(logrus.Fields{"hash": bb.ID.String(), "txn": id}).Debug("enlisted block")
		return nil
	}
	m.mu.Unlock()

	return m.commitBlocks(ctx, []*BrightenedBlock{bb})
}

// SetAll stores several blocks with one backend call where the backend allows it.
// Blocks already present are skipped.
// Each block is validated before anything is written.
func (m *Manager) SetAll(ctx context.Context, blocks []*brightchain.Block) error {
	var (
		bbs  []*BrightenedBlock
		seen = make(map[brightchain.Hash]bool)
	)
	for _, b := range blocks {
		if ok, errs := brightchain.Validate(b); !ok {
			return &brightchain.InvalidBlockError{ID: b.ID, Errs: errs}
		}
		if seen[b.ID] {
			continue
		}
		seen[b.ID] = true

		exists, err := m.Contains(ctx, b.ID)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		bbs = append(bbs, m.Adopt(b, true))
	}
	if len(bbs) == 0 {
		return nil
	}

	m.mu.Lock()
	for _, bb := range bbs {
		m.overlay[bb.ID] = bb
	}
	if m.active != nil {
		for _, bb := range bbs {
			m.active.enlist(bb)
		}
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	return m.commitBlocks(ctx, bbs)
}

// records produces the backend pairs that persist bb.
func records(bb *BrightenedBlock) []store.KV {
	kvs := []store.KV{
		{Key: dataKey(bb.ID), Val: brightchain.MarshalData(bb.Block)},
		{Key: metaKey(bb.ID), Val: brightchain.MarshalMetadata(bb.Block)},
	}
	if k := bb.Contract.KeepUntilAtLeast; !k.IsZero() {
		kvs = append(kvs, store.KV{Key: expireKey(Bucket(k), bb.ID), Val: []byte{}})
	}
	return kvs
}

// commitBlocks runs both commit phases on bbs around a single backend write.
// The blocks must already be in the overlay.
// On failure they are rolled back and removed from it.
func (m *Manager) commitBlocks(ctx context.Context, bbs []*BrightenedBlock) error {
	var kvs []store.KV
	for i, bb := range bbs {
		if _, err := bb.state.Commit(); err != nil {
			m.abandon(ctx, bbs[:i], false)
			m.forget(bbs[i:])
			return errors.Wrapf(err, "committing %s", bb.Block)
		}
		kvs = append(kvs, records(bb)...)
	}

	if err := store.PutMulti(ctx, m.b, kvs); err != nil {
		m.abandon(ctx, bbs, true)
		return errors.Wrap(err, "writing blocks")
	}

	for _, bb := range bbs {
		if _, err := bb.state.Commit(); err != nil {
			return errors.Wrapf(err, "confirming %s", bb.Block)
		}
	}
	for _, bb := range bbs {
		m.removeReplacedExpiration(ctx, bb)
	}
	m.forget(bbs)
	for _, bb := range bbs {
		m.notifyAdded(bb.ID)
	}
	return nil
}

// removeReplacedExpiration deletes the expiration entry of the record bb replaced,
// unless bb kept it.
// A failure leaves a stale entry for a later sweep.
func (m *Manager) removeReplacedExpiration(ctx context.Context, bb *BrightenedBlock) {
	if !bb.updateOnly || bb.prevKeep.IsZero() {
		return
	}
	if k := bb.Contract.KeepUntilAtLeast; !k.IsZero() && Bucket(k) == Bucket(bb.prevKeep) {
		return
	}
	if err := m.b.Delete(ctx, expireKey(Bucket(bb.prevKeep), bb.ID)); err != nil {
		m.log.WithError(err).WithField("hash", bb.ID.String()).Warn("removing replaced expiration entry")
	}
}

// abandon rolls back bbs and removes them from the overlay.
// If written is true the blocks' records may have reached the backend,
// and those that did not replace an existing record are deleted.
func (m *Manager) abandon(ctx context.Context, bbs []*BrightenedBlock, written bool) {
	for _, bb := range bbs {
		if _, err := bb.state.Rollback(true); err != nil {
			m.log.WithError(err).WithField("hash", bb.ID.String()).Error("rolling back block")
		}
		if !written || bb.updateOnly {
			continue
		}
		for _, kv := range records(bb) {
			if err := m.b.Delete(ctx, kv.Key); err != nil {
				m.log.WithError(err).WithField("hash", bb.ID.String()).Error("removing partly written block")
			}
		}
	}
	m.forget(bbs)
}

// forget removes bbs from the overlay,
// unless a later block with the same hash has replaced them there.
func (m *Manager) forget(bbs []*BrightenedBlock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, bb := range bbs {
		if m.overlay[bb.ID] == bb {
			delete(m.overlay, bb.ID)
		}
	}
}

// Status reports the transaction status of a block pending in the overlay.
// The boolean is false if no block with hash h is pending.
func (m *Manager) Status(h brightchain.Hash) (txn.Status, bool) {
	m.mu.Lock()
	bb, ok := m.overlay[h]
	m.mu.Unlock()
	if !ok {
		return 0, false
	}
	return bb.state.Status(), true
}

// Pending lists the hashes of overlay blocks in the given status.
func (m *Manager) Pending(status txn.Status) []brightchain.Hash {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []brightchain.Hash
	for h, bb := range m.overlay {
		if bb.state.Status() == status {
			result = append(result, h)
		}
	}
	return result
}

// Drop removes the block with hash h
// from the overlay, the backend, and the expiration index.
//
// If noCheckContains is false and the block is absent,
// Drop returns false and does nothing.
// Otherwise it returns true.
func (m *Manager) Drop(ctx context.Context, h brightchain.Hash, noCheckContains bool) (bool, error) {
	if !noCheckContains {
		ok, err := m.Contains(ctx, h)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}

	m.mu.Lock()
	bb, pending := m.overlay[h]
	if pending {
		delete(m.overlay, h)
		if m.active != nil {
			m.active.remove(bb)
		}
	}
	m.mu.Unlock()
	if pending {
		if bb.state.Status() == txn.Committed {
			bb.state.MarkDropped()
		} else if _, err := bb.state.Rollback(false); err != nil {
			return true, errors.Wrapf(err, "rolling back %s", h)
		}
	}

	stored := false
	rec, err := m.b.Get(ctx, metaKey(h))
	switch {
	case errors.Is(err, brightchain.ErrNotFound):
	case err != nil:
		return true, errors.Wrapf(err, "getting metadata for %s", h)
	default:
		stored = true
		md, err := brightchain.UnmarshalMetadata(rec)
		if err != nil {
			return true, errors.Wrapf(err, "parsing metadata for %s", h)
		}
		if k := md.Contract.KeepUntilAtLeast; !k.IsZero() {
			if err = m.b.Delete(ctx, expireKey(Bucket(k), h)); err != nil {
				return true, errors.Wrapf(err, "removing expiration entry for %s", h)
			}
		}
	}

	if err := m.b.Delete(ctx, dataKey(h)); err != nil {
		return true, errors.Wrapf(err, "deleting data for %s", h)
	}
	if err := m.b.Delete(ctx, metaKey(h)); err != nil {
		return true, errors.Wrapf(err, "deleting metadata for %s", h)
	}

	if pending || stored {
		m.notifyRemoved(h)
	}
	return true, nil
}

// Checkpoint writes the backend's contents to w.
// The backend must implement store.Checkpointer.
func (m *Manager) Checkpoint(ctx context.Context, w io.Writer) error {
	cp, ok := m.b.(store.Checkpointer)
	if !ok {
		return errors.Errorf("%T does not support checkpoints", m.b)
	}
	return cp.Checkpoint(ctx, w)
}

// Recover loads the output of Checkpoint into the backend.
func (m *Manager) Recover(ctx context.Context, r io.Reader) error {
	cp, ok := m.b.(store.Checkpointer)
	if !ok {
		return errors.Errorf("%T does not support checkpoints", m.b)
	}
	return cp.Recover(ctx, r)
}

// Now is the current time according to the manager's clock.
func (m *Manager) Now() time.Time {
	return m.clock.Now()
}

// Logger is the manager's logger.
func (m *Manager) Logger() *logrus.Logger {
	return m.log
}

// Backend is the manager's backend.
func (m *Manager) Backend() store.Backend {
	return m.b
}

// Close closes the backend.
func (m *Manager) Close() error {
	return m.b.Close()
}
