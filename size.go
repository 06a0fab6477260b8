package brightchain

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

// BlockSize is one of the supported block sizes, in bytes.
// The set is closed: a byte count that is not in the catalogue is not a block size.
type BlockSize uint32

// The block size catalogue.
const (
	Unknown BlockSize = 0
	Nano    BlockSize = 256
	Message BlockSize = 512
	Tiny    BlockSize = 1024
	Small   BlockSize = 4 * 1024
	Medium  BlockSize = 1024 * 1024
	Large   BlockSize = 4 * 1024 * 1024
)

// Sizes lists the catalogue in ascending order.
var Sizes = []BlockSize{Nano, Message, Tiny, Small, Medium, Large}

// SizeOf returns the catalogue size equal to n, if there is one.
func SizeOf(n int) (BlockSize, bool) {
	for _, s := range Sizes {
		if int(s) == n {
			return s, true
		}
	}
	return Unknown, false
}

// SmallestFitting returns the smallest catalogue size holding at least n bytes.
func SmallestFitting(n int) (BlockSize, bool) {
	for _, s := range Sizes {
		if int(s) >= n {
			return s, true
		}
	}
	return Unknown, false
}

// Valid tells whether s is in the catalogue.
func (s BlockSize) Valid() bool {
	_, ok := SizeOf(int(s))
	return ok && s != Unknown
}

// HashesPerBlock is the number of hashes that fit in a block of this size.
// It bounds the fan-out of a manifest.
func (s BlockSize) HashesPerBlock() int {
	return int(s) / HashSize
}

func (s BlockSize) String() string {
	switch s {
	case Nano:
		return "nano"
	case Message:
		return "message"
	case Tiny:
		return "tiny"
	case Small:
		return "small"
	case Medium:
		return "medium"
	case Large:
		return "large"
	}
	return fmt.Sprintf("unknown(%d)", uint32(s))
}

// ParseBlockSize accepts a catalogue name ("message") or a byte count ("512").
func ParseBlockSize(str string) (BlockSize, error) {
	for _, s := range Sizes {
		if s.String() == str {
			return s, nil
		}
	}
	if n, err := strconv.Atoi(str); err == nil {
		if s, ok := SizeOf(n); ok {
			return s, nil
		}
	}
	return Unknown, errors.Wrapf(ErrStructure, "unknown block size %q", str)
}
