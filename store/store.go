// Package store defines the backend contract beneath a cache manager,
// a registry of backend implementations,
// and helpers that work with any backend.
//
// A Backend is an ordered map from byte-string keys to byte-string values.
// The layout of keys is up to the caller.
package store

import (
	"context"
	"io"

	"github.com/pkg/errors"
)

// Backend is the interface that storage implementations satisfy.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Has tells whether key is present.
	Has(ctx context.Context, key []byte) (bool, error)

	// Get gets the value stored at key.
	// It returns an error wrapping brightchain.ErrNotFound if key is absent.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Put stores val at key, replacing any previous value.
	Put(ctx context.Context, key, val []byte) error

	// Delete removes key.
	// Deleting an absent key is not an error.
	Delete(ctx context.Context, key []byte) error

	// Scan calls f for every key beginning with prefix, in ascending key order.
	// An error from f stops the scan and is returned.
	Scan(ctx context.Context, prefix []byte, f func(key, val []byte) error) error

	io.Closer
}

// KV is a key-value pair.
type KV struct {
	Key, Val []byte
}

// MultiPutter is an optional interface for backends that can store several pairs in one call.
type MultiPutter interface {
	PutMulti(context.Context, []KV) error
}

// Checkpointer is an optional interface for backends
// that can write their entire contents to a stream and read them back.
// The stream format is up to the backend.
type Checkpointer interface {
	Checkpoint(context.Context, io.Writer) error
	Recover(context.Context, io.Reader) error
}

// Factory is a function that can create a Backend from a parameter map.
type Factory func(context.Context, map[string]interface{}) (Backend, error)

var registry = make(map[string]Factory)

// Register makes a backend type available to Create.
// Backend packages call it from their init functions.
func Register(key string, f Factory) {
	registry[key] = f
}

// Create produces a Backend of the registered type key.
func Create(ctx context.Context, key string, conf map[string]interface{}) (Backend, error) {
	f, ok := registry[key]
	if !ok {
		return nil, errors.Errorf("key %s not found in registry", key)
	}
	return f(ctx, conf)
}

// Types lists the registered backend types.
func Types() []string {
	var result []string
	for k := range registry {
		result = append(result, k)
	}
	return result
}

// Nested creates the backend described by conf[name],
// which must be a parameter map with a "type" entry.
// It is for wrapper backends like lru and logging.
func Nested(ctx context.Context, conf map[string]interface{}, name string) (Backend, error) {
	nested, ok := conf[name].(map[string]interface{})
	if !ok {
		return nil, errors.Errorf(`missing %q parameter`, name)
	}
	nestedType, ok := nested["type"].(string)
	if !ok {
		return nil, errors.Errorf(`%q parameter missing "type"`, name)
	}
	return Create(ctx, nestedType, nested)
}

// PrefixEnd returns the smallest key greater than every key beginning with prefix,
// or nil if there is none.
func PrefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
