// Package compress implements a backend that compresses and uncompresses values
// on their way into and out of a nested backend.
package compress

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/brightchain/brightchain/store"
)

var (
	_ store.Backend      = &Store{}
	_ store.MultiPutter  = &Store{}
	_ store.Checkpointer = &Store{}
)

// Each stored value begins with one of these tags.
const (
	tagRaw        byte = 0
	tagCompressed byte = 1
)

// Store is a backend wrapping a nested backend and a Compressor.
// A value is stored compressed only when that makes it smaller.
// Keys are not altered.
type Store struct {
	s store.Backend
	c Compressor
}

// Compressor tells how to compress values on their way into a Store.
// Uncompress must be the inverse of Compress.
// Compress returns nil for input it cannot compress.
type Compressor interface {
	Compress([]byte) []byte
	Uncompress([]byte) ([]byte, error)
}

// New produces a new Store.
func New(s store.Backend, c Compressor) *Store {
	return &Store{s: s, c: c}
}

func (s *Store) encode(val []byte) []byte {
	if cval := s.c.Compress(val); cval != nil && len(cval) < len(val) {
		return append([]byte{tagCompressed}, cval...)
	}
	return append([]byte{tagRaw}, val...)
}

func (s *Store) decode(val []byte) ([]byte, error) {
	if len(val) == 0 {
		return nil, errors.New("missing value tag")
	}
	switch val[0] {
	case tagRaw:
		return append([]byte(nil), val[1:]...), nil
	case tagCompressed:
		out, err := s.c.Uncompress(val[1:])
		return out, errors.Wrap(err, "uncompressing value")
	default:
		return nil, errors.Errorf("unknown value tag %d", val[0])
	}
}

// Has implements store.Backend.
func (s *Store) Has(ctx context.Context, key []byte) (bool, error) {
	return s.s.Has(ctx, key)
}

// Get implements store.Backend.
func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	val, err := s.s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	out, err := s.decode(val)
	return out, errors.Wrapf(err, "decoding value at %x", key)
}

// Put implements store.Backend.
func (s *Store) Put(ctx context.Context, key, val []byte) error {
	return s.s.Put(ctx, key, s.encode(val))
}

// PutMulti implements store.MultiPutter.
func (s *Store) PutMulti(ctx context.Context, kvs []store.KV) error {
	encoded := make([]store.KV, 0, len(kvs))
	for _, kv := range kvs {
		encoded = append(encoded, store.KV{Key: kv.Key, Val: s.encode(kv.Val)})
	}
	return store.PutMulti(ctx, s.s, encoded)
}

// Delete implements store.Backend.
func (s *Store) Delete(ctx context.Context, key []byte) error {
	return s.s.Delete(ctx, key)
}

// Scan implements store.Backend.
func (s *Store) Scan(ctx context.Context, prefix []byte, f func(key, val []byte) error) error {
	return s.s.Scan(ctx, prefix, func(key, val []byte) error {
		out, err := s.decode(val)
		if err != nil {
			return errors.Wrapf(err, "decoding value at %x", key)
		}
		return f(key, out)
	})
}

// Checkpoint implements store.Checkpointer
// when the nested backend does.
// Values are written in their stored form.
func (s *Store) Checkpoint(ctx context.Context, w io.Writer) error {
	cp, ok := s.s.(store.Checkpointer)
	if !ok {
		return errors.Errorf("nested backend %T cannot checkpoint", s.s)
	}
	return cp.Checkpoint(ctx, w)
}

// Recover implements store.Checkpointer
// when the nested backend does.
func (s *Store) Recover(ctx context.Context, r io.Reader) error {
	cp, ok := s.s.(store.Checkpointer)
	if !ok {
		return errors.Errorf("nested backend %T cannot recover", s.s)
	}
	return cp.Recover(ctx, r)
}

// Close closes the nested backend.
func (s *Store) Close() error {
	return s.s.Close()
}

func init() {
	store.Register("compress", func(ctx context.Context, conf map[string]interface{}) (store.Backend, error) {
		nested, err := store.Nested(ctx, conf, "nested")
		if err != nil {
			return nil, errors.Wrap(err, "creating nested store")
		}
		compressor, _ := conf["compressor"].(string)
		level, hasLevel := conf["level"].(int)

		switch compressor {
		case "", "zstd":
			z, err := NewZstd(level)
			if err != nil {
				return nil, errors.Wrap(err, "creating zstd compressor")
			}
			return New(nested, z), nil

		case "flate":
			if !hasLevel {
				level = -1
			}
			return New(nested, Flate{Level: level}), nil

		case "lzw":
			return New(nested, LZW{}), nil

		case "lz4":
			return New(nested, LZ4{}), nil

		case "xz":
			return New(nested, XZ{}), nil

		case "brotli":
			if !hasLevel {
				level = -1
			}
			return New(nested, Brotli{Level: level}), nil

		default:
			return nil, errors.Errorf(`unknown compressor "%s"`, compressor)
		}
	})
}
