package brightchain

import (
	"bytes"
	"encoding/hex"

	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

// HashSize is the width of a Hash in bytes.
const HashSize = 64

// Hash is the identity of a block: the SHA3-512 digest of its bytes.
// Two blocks with identical bytes are the same block.
type Hash [HashSize]byte

// Zero is the zero value of a Hash.
var Zero Hash

// Sum computes the Hash of a byte slice.
func Sum(b []byte) Hash {
	return sha3.Sum512(b)
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Less reports whether h sorts before other.
func (h Hash) Less(other Hash) bool {
	return bytes.Compare(h[:], other[:]) < 0
}

// IsZero tells whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Zero
}

// FromHex parses a hex-encoded hash into h.
func (h *Hash) FromHex(s string) error {
	if len(s) != 2*HashSize {
		return errors.Errorf("wrong length %d for hex hash", len(s))
	}
	_, err := hex.Decode(h[:], []byte(s))
	return errors.Wrap(err, "decoding hex hash")
}

// HashFromBytes copies b into a Hash.
// It is an error if b is not exactly HashSize bytes long.
func HashFromBytes(b []byte) (Hash, error) {
	var out Hash
	if len(b) != HashSize {
		return out, errors.Errorf("wrong length %d for hash", len(b))
	}
	copy(out[:], b)
	return out, nil
}

// HashFromHex parses a hex-encoded hash.
func HashFromHex(s string) (Hash, error) {
	var out Hash
	err := out.FromHex(s)
	return out, err
}
