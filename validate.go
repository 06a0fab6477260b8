package brightchain

import "fmt"

// ValidationError is one defect found in a block.
type ValidationError struct {
	Field string
	Msg   string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Msg
}

// Validate checks a block's structural invariants.
// Every defect is collected;
// the boolean result is true iff there are none.
//
// Validate has no side effects.
// Callers decide what to do with an invalid block.
func Validate(b *Block) (bool, []ValidationError) {
	var errs []ValidationError

	add := func(field, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)})
	}

	if got := Sum(b.Data); got != b.ID {
		add("id", "hash mismatch: recorded %s, computed %s", b.ID, got)
	}
	if size, ok := SizeOf(len(b.Data)); !ok {
		add("data", "length %d is not a catalogue block size", len(b.Data))
	} else if size != b.Size {
		add("size", "recorded size %s, data is %s", b.Size, size)
	}
	if b.Contract.ByteCount != len(b.Data) {
		add("byte_count", "recorded %d, data has %d", b.Contract.ByteCount, len(b.Data))
	}
	if !b.Contract.Redundancy.Valid() {
		add("redundancy", "unrecognized value %d", uint8(b.Contract.Redundancy))
	}
	if !b.Kind.Valid() {
		add("kind", "unrecognized value %d", uint8(b.Kind))
	}
	if !b.Contract.KeepUntilAtLeast.IsZero() && b.Contract.KeepUntilAtLeast.Before(b.Contract.RequestTime) {
		add("keep_until_at_least", "%s is before request time %s", b.Contract.KeepUntilAtLeast, b.Contract.RequestTime)
	}

	return len(errs) == 0, errs
}
