// Package gcs implements a backend on Google Cloud Storage.
package gcs

import (
	"context"
	"encoding/hex"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/brightchain/brightchain"
	"github.com/brightchain/brightchain/store"
)

var (
	_ store.Backend      = &Store{}
	_ store.Checkpointer = &Store{}
)

// Store is a Google Cloud Storage-based implementation of a backend.
// Each key is an object whose name is a fixed prefix
// followed by the hex encoding of the key.
// Object listings come back in name order,
// and hex encoding preserves key order.
type Store struct {
	bucket *storage.BucketHandle
	prefix string
}

// New produces a new Store.
// Object names begin with prefix,
// so several stores can share one bucket.
func New(bucket *storage.BucketHandle, prefix string) *Store {
	return &Store{bucket: bucket, prefix: prefix}
}

func (s *Store) objName(key []byte) string {
	return s.prefix + hex.EncodeToString(key)
}

func (s *Store) keyFromObjName(name string) ([]byte, error) {
	if !strings.HasPrefix(name, s.prefix) {
		return nil, errors.Errorf("object %s lacks prefix %s", name, s.prefix)
	}
	return hex.DecodeString(name[len(s.prefix):])
}

// MaxRetries is the number of times a rate-limited or failed request is retried.
var MaxRetries uint64 = 5

// retry calls f until it succeeds,
// fails with an error other than rate limiting or a server error,
// or has been retried MaxRetries times.
func retry(ctx context.Context, f func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), MaxRetries), ctx)
	return backoff.Retry(func() error {
		err := f()
		if err == nil || retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
}

func retryable(err error) bool {
	var e *googleapi.Error
	if errors.As(err, &e) {
		return e.Code == 429 || e.Code >= 500
	}
	return false
}

// Has implements store.Backend.
func (s *Store) Has(ctx context.Context, key []byte) (bool, error) {
	name := s.objName(key)
	_, err := s.bucket.Object(name).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return err == nil, errors.Wrapf(err, "getting object attrs for %s", name)
}

// Get implements store.Backend.
func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	name := s.objName(key)
	var val []byte
	err := retry(ctx, func() error {
		r, err := s.bucket.Object(name).NewReader(ctx)
		if err != nil {
			return err
		}
		defer r.Close()
		val, err = io.ReadAll(r)
		return err
	})
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, errors.Wrapf(brightchain.ErrNotFound, "key %x", key)
	}
	return val, errors.Wrapf(err, "reading object %s", name)
}

// Put implements store.Backend.
func (s *Store) Put(ctx context.Context, key, val []byte) error {
	name := s.objName(key)
	err := retry(ctx, func() error {
		w := s.bucket.Object(name).NewWriter(ctx)
		if _, err := w.Write(val); err != nil {
			w.Close()
			return err
		}
		return w.Close()
	})
	return errors.Wrapf(err, "writing object %s", name)
}

// Delete implements store.Backend.
func (s *Store) Delete(ctx context.Context, key []byte) error {
	name := s.objName(key)
	err := retry(ctx, func() error { return s.bucket.Object(name).Delete(ctx) })
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return errors.Wrapf(err, "deleting object %s", name)
}

// Scan implements store.Backend.
func (s *Store) Scan(ctx context.Context, prefix []byte, f func(key, val []byte) error) error {
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: s.objName(prefix)})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "listing objects")
		}
		key, err := s.keyFromObjName(attrs.Name)
		if err != nil {
			continue
		}
		val, err := s.Get(ctx, key)
		if errors.Is(err, brightchain.ErrNotFound) {
			// Deleted since it was listed.
			continue
		}
		if err != nil {
			return err
		}
		if err = f(key, val); err != nil {
			return err
		}
	}
}

// Checkpoint implements store.Checkpointer.
func (s *Store) Checkpoint(ctx context.Context, w io.Writer) error {
	return store.WriteCheckpoint(ctx, s, w)
}

// Recover implements store.Checkpointer.
func (s *Store) Recover(ctx context.Context, r io.Reader) error {
	return store.ReadCheckpoint(ctx, s, r)
}

// Close implements io.Closer.
// The storage client is owned by the caller.
func (s *Store) Close() error {
	return nil
}

func init() {
	store.Register("gcs", func(ctx context.Context, conf map[string]interface{}) (store.Backend, error) {
		var options []option.ClientOption
		creds, ok := conf["creds"].(string)
		if !ok {
			return nil, errors.New(`missing "creds" parameter`)
		}
		bucketName, ok := conf["bucket"].(string)
		if !ok {
			return nil, errors.New(`missing "bucket" parameter`)
		}
		prefix, _ := conf["prefix"].(string)
		options = append(options, option.WithCredentialsFile(creds))
		c, err := storage.NewClient(ctx, options...)
		if err != nil {
			return nil, errors.Wrap(err, "creating cloud storage client")
		}
		return New(c.Bucket(bucketName), prefix), nil
	})
}
