package brightchain

import (
	"strings"

	"github.com/pkg/errors"
)

// Sentinel errors.
// Use errors.Is to test for them;
// the errors actually returned usually wrap one of these with context.
var (
	// ErrNotFound is returned when a block or index entry is absent.
	// It is an expected outcome, distinct from ErrInvalid.
	ErrNotFound = errors.New("not found")

	// ErrInvalid is returned when an invalid block is presented for storage.
	ErrInvalid = errors.New("invalid block")

	// ErrConflict is returned when an operation collides with existing state:
	// storing an existing block,
	// starting a second transaction,
	// or indexing a handle that disagrees with its hashes.
	ErrConflict = errors.New("conflict")

	// ErrState is returned when a commit or rollback is illegal in the current state.
	ErrState = errors.New("illegal state transition")

	// ErrStructure is returned for malformed tuples and chains.
	ErrStructure = errors.New("structural chain error")
)

// InvalidBlockError carries the complete defect list of an invalid block.
type InvalidBlockError struct {
	ID   Hash
	Errs []ValidationError
}

func (e *InvalidBlockError) Error() string {
	return "invalid block " + e.ID.String() + ": " + joinErrs(e.Errs)
}

// Is makes errors.Is(err, ErrInvalid) true.
func (e *InvalidBlockError) Is(target error) bool {
	return target == ErrInvalid
}

// ChainValidationError is raised when a block reconstructed from a chain fails validation.
type ChainValidationError struct {
	ID   Hash
	Errs []ValidationError
}

func (e *ChainValidationError) Error() string {
	return "reconstructed block " + e.ID.String() + " failed validation: " + joinErrs(e.Errs)
}

// Is makes errors.Is(err, ErrStructure) true.
func (e *ChainValidationError) Is(target error) bool {
	return target == ErrStructure
}

func joinErrs(errs []ValidationError) string {
	strs := make([]string, 0, len(errs))
	for _, e := range errs {
		strs = append(strs, e.Error())
	}
	return strings.Join(strs, "; ")
}
