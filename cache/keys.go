package cache

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/brightchain/brightchain"
)

// Backend key prefixes.
const (
	dataPrefix        = "b/"
	metaPrefix        = "m/"
	handlePrefix      = "c/"
	correlationPrefix = "r/"
	expirePrefix      = "x/"
	rootKey           = "n/root"
)

func hashKey(prefix string, h brightchain.Hash) []byte {
	out := make([]byte, 0, len(prefix)+brightchain.HashSize)
	out = append(out, prefix...)
	return append(out, h[:]...)
}

func dataKey(h brightchain.Hash) []byte   { return hashKey(dataPrefix, h) }
func metaKey(h brightchain.Hash) []byte   { return hashKey(metaPrefix, h) }
func handleKey(h brightchain.Hash) []byte { return hashKey(handlePrefix, h) }

func correlationKey(id uuid.UUID) []byte {
	out := make([]byte, 0, len(correlationPrefix)+len(id))
	out = append(out, correlationPrefix...)
	return append(out, id[:]...)
}

// Bucket is the expiration bucket holding blocks whose keep-until time is t.
// Buckets are whole Unix seconds.
// Times before the epoch share bucket zero.
func Bucket(t time.Time) uint64 {
	s := t.Unix()
	if s < 0 {
		return 0
	}
	return uint64(s)
}

func bucketPrefix(bucket uint64) []byte {
	out := make([]byte, len(expirePrefix)+8)
	copy(out, expirePrefix)
	binary.BigEndian.PutUint64(out[len(expirePrefix):], bucket)
	return out
}

func expireKey(bucket uint64, h brightchain.Hash) []byte {
	return append(bucketPrefix(bucket), h[:]...)
}

func parseExpireKey(key []byte) (uint64, brightchain.Hash, error) {
	rest := key[len(expirePrefix):]
	if len(rest) != 8+brightchain.HashSize {
		return 0, brightchain.Zero, errors.Errorf("malformed expiration key %x", key)
	}
	h, err := brightchain.HashFromBytes(rest[8:])
	return binary.BigEndian.Uint64(rest), h, err
}
