// Package txn implements the per-block transaction state machine
// that decides whether a block may be persisted.
//
// A block starts out Uncommitted
// (or DoNotWrite, if it was created with commit disallowed).
// Committing is two-phase:
// the first Commit moves it to WrittenUnconfirmed,
// the second to Committed.
// Rollback before the final commit moves it to one of the RolledBack states.
package txn

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/brightchain/brightchain"
)

// Status is the transaction status of a block.
type Status int

const (
	DoNotWrite Status = iota
	Uncommitted
	WrittenUnconfirmed
	Committed
	DroppedCommitted
	RolledBackDoNotWrite
	RolledBackRewrite
)

var statusNames = map[Status]string{
	DoNotWrite:           "DoNotWrite",
	Uncommitted:          "Uncommitted",
	WrittenUnconfirmed:   "WrittenUnconfirmed",
	Committed:            "Committed",
	DroppedCommitted:     "DroppedCommitted",
	RolledBackDoNotWrite: "RolledBackDoNotWrite",
	RolledBackRewrite:    "RolledBackRewrite",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// AllowCommit tells whether a block in this status may (still) be committed.
func (s Status) AllowCommit() bool {
	switch s {
	case Uncommitted, Committed, DroppedCommitted, WrittenUnconfirmed, RolledBackRewrite:
		return true
	}
	return false
}

// State is a block's position in the state machine.
// The zero State is DoNotWrite.
// It is safe for concurrent use.
type State struct {
	mu     sync.Mutex
	status Status
}

// NewState produces a State in its initial status.
func NewState(allowCommit bool) *State {
	if allowCommit {
		return &State{status: Uncommitted}
	}
	return &State{status: DoNotWrite}
}

// Status returns the current status.
func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// AllowCommit is s.Status().AllowCommit().
func (s *State) AllowCommit() bool {
	return s.Status().AllowCommit()
}

// Commit advances the state by one commit phase and returns the new status.
// Committing an already committed block is a no-op.
// Committing a block that may not be written is an error matching brightchain.ErrState.
func (s *State) Commit() (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.status {
	case Uncommitted, RolledBackRewrite:
		s.status = WrittenUnconfirmed
	case WrittenUnconfirmed:
		s.status = Committed
	case Committed, DroppedCommitted:
		// idempotent
	default:
		return s.status, errors.Wrapf(brightchain.ErrState, "not allowed to commit (status %s)", s.status)
	}
	return s.status, nil
}

// Rollback abandons an uncommitted block.
// If rewrite is true the block may be written again later.
// Rolling back a block that was never writable is a no-op;
// rolling back a committed block is an error matching brightchain.ErrState.
func (s *State) Rollback(rewrite bool) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.status {
	case Uncommitted, WrittenUnconfirmed, RolledBackRewrite:
		if rewrite {
			s.status = RolledBackRewrite
		} else {
			s.status = RolledBackDoNotWrite
		}
	case DoNotWrite, RolledBackDoNotWrite:
		// nothing to undo
	default:
		return s.status, errors.Wrapf(brightchain.ErrState, "already committed (status %s)", s.status)
	}
	return s.status, nil
}

// MarkDropped records that a committed block was dropped from its store.
// It has no effect in any other status.
func (s *State) MarkDropped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == Committed {
		s.status = DroppedCommitted
	}
}
