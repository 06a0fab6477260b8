package txn

import (
	"errors"
	"fmt"
	"testing"

	"github.com/brightchain/brightchain"
)

func TestTwoPhaseCommit(t *testing.T) {
	s := NewState(true)
	if got := s.Status(); got != Uncommitted {
		t.Fatalf("initial status %s, want Uncommitted", got)
	}
	for _, want := range []Status{WrittenUnconfirmed, Committed, Committed} {
		got, err := s.Commit()
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("got %s, want %s", got, want)
		}
	}
	if _, err := s.Rollback(true); !errors.Is(err, brightchain.ErrState) {
		t.Errorf("rollback after commit: got %v, want ErrState", err)
	}
}

func TestDoNotWrite(t *testing.T) {
	s := NewState(false)
	if s.AllowCommit() {
		t.Error("DoNotWrite block allows commit")
	}
	if _, err := s.Commit(); !errors.Is(err, brightchain.ErrState) {
		t.Errorf("got %v, want ErrState", err)
	}
	got, err := s.Rollback(false)
	if err != nil {
		t.Fatal(err)
	}
	if got != DoNotWrite {
		t.Errorf("rollback changed status to %s", got)
	}
}

func TestTransitions(t *testing.T) {
	type op int
	const (
		commit op = iota
		rollbackRewrite
		rollbackNoRewrite
	)

	cases := []struct {
		from    Status
		op      op
		want    Status
		wantErr bool
	}{
		{Uncommitted, commit, WrittenUnconfirmed, false},
		{RolledBackRewrite, commit, WrittenUnconfirmed, false},
		{WrittenUnconfirmed, commit, Committed, false},
		{Committed, commit, Committed, false},
		{DroppedCommitted, commit, DroppedCommitted, false},
		{DoNotWrite, commit, DoNotWrite, true},
		{RolledBackDoNotWrite, commit, RolledBackDoNotWrite, true},

		{Uncommitted, rollbackRewrite, RolledBackRewrite, false},
		{WrittenUnconfirmed, rollbackRewrite, RolledBackRewrite, false},
		{RolledBackRewrite, rollbackRewrite, RolledBackRewrite, false},
		{Uncommitted, rollbackNoRewrite, RolledBackDoNotWrite, false},
		{WrittenUnconfirmed, rollbackNoRewrite, RolledBackDoNotWrite, false},
		{RolledBackRewrite, rollbackNoRewrite, RolledBackDoNotWrite, false},
		{DoNotWrite, rollbackRewrite, DoNotWrite, false},
		{RolledBackDoNotWrite, rollbackNoRewrite, RolledBackDoNotWrite, false},
		{Committed, rollbackRewrite, Committed, true},
		{DroppedCommitted, rollbackNoRewrite, DroppedCommitted, true},
	}

	for i, c := range cases {
		t.Run(fmt.Sprintf("case_%02d", i+1), func(t *testing.T) {
			s := &State{status: c.from}
			var err error
			switch c.op {
			case commit:
				_, err = s.Commit()
			case rollbackRewrite:
				_, err = s.Rollback(true)
			case rollbackNoRewrite:
				_, err = s.Rollback(false)
			}
			if c.wantErr != (err != nil) {
				t.Fatalf("got error %v, wantErr %v", err, c.wantErr)
			}
			if err != nil && !errors.Is(err, brightchain.ErrState) {
				t.Errorf("got %v, want ErrState", err)
			}
			if got := s.Status(); got != c.want {
				t.Errorf("got %s, want %s", got, c.want)
			}
		})
	}
}

func TestAllowCommit(t *testing.T) {
	allowed := map[Status]bool{
		Uncommitted:        true,
		Committed:          true,
		DroppedCommitted:   true,
		WrittenUnconfirmed: true,
		RolledBackRewrite:  true,
	}
	for s := range statusNames {
		if got := s.AllowCommit(); got != allowed[s] {
			t.Errorf("%s: AllowCommit is %v", s, got)
		}
	}
}

func TestMarkDropped(t *testing.T) {
	s := &State{status: Committed}
	s.MarkDropped()
	if got := s.Status(); got != DroppedCommitted {
		t.Errorf("got %s, want DroppedCommitted", got)
	}
	u := NewState(true)
	u.MarkDropped()
	if got := u.Status(); got != Uncommitted {
		t.Errorf("got %s, want Uncommitted", got)
	}
}
