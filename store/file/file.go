// Package file implements a backend as a file hierarchy.
//
// Each key is stored in a file named by the hex encoding of the key,
// in a directory named by the hex encoding of the key's first four bytes.
package file

import (
	"context"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bobg/flock"
	"github.com/pkg/errors"

	"github.com/brightchain/brightchain"
	"github.com/brightchain/brightchain/store"
)

var (
	_ store.Backend      = &Store{}
	_ store.Checkpointer = &Store{}
)

// Store is a file-based implementation of a backend.
type Store struct {
	root    string
	flocker flock.Locker
}

// New produces a new Store storing data beneath root,
// creating the directory if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Wrapf(err, "ensuring %s exists", root)
	}
	return &Store{root: root}, nil
}

const fanout = 4

func dirName(h string) string {
	if len(h) > 2*fanout {
		return h[:2*fanout]
	}
	return h
}

func (s *Store) keypath(key []byte) (string, error) {
	if len(key) == 0 {
		return "", errors.New("empty key")
	}
	h := hex.EncodeToString(key)
	return filepath.Join(s.root, dirName(h), h), nil
}

// Has implements store.Backend.
func (s *Store) Has(_ context.Context, key []byte) (bool, error) {
	path, err := s.keypath(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, errors.Wrapf(err, "statting %s", path)
}

// Get implements store.Backend.
func (s *Store) Get(_ context.Context, key []byte) ([]byte, error) {
	path, err := s.keypath(key)
	if err != nil {
		return nil, err
	}
	val, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(brightchain.ErrNotFound, "key %x", key)
	}
	return val, errors.Wrapf(err, "reading %s", path)
}

// Put implements store.Backend.
// The value is written to a temporary file and renamed into place.
func (s *Store) Put(_ context.Context, key, val []byte) error {
	path, err := s.keypath(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)

	if err = os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "ensuring path %s exists", dir)
	}

	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "creating temp file in %s", dir)
	}
	tmpname := f.Name()
	defer os.Remove(tmpname)

	_, err = f.Write(val)
	if err != nil {
		f.Close()
		return errors.Wrapf(err, "writing data to %s", tmpname)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", tmpname)
	}

	return errors.Wrapf(os.Rename(tmpname, path), "renaming %s to %s", tmpname, path)
}

// Delete implements store.Backend.
func (s *Store) Delete(_ context.Context, key []byte) error {
	path, err := s.keypath(key)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return errors.Wrapf(err, "removing %s", path)
}

// Scan implements store.Backend.
func (s *Store) Scan(ctx context.Context, prefix []byte, f func(key, val []byte) error) error {
	hp := hex.EncodeToString(prefix)

	var dirs []string
	if len(prefix) >= fanout {
		dirs = []string{dirName(hp)}
	} else {
		entries, err := os.ReadDir(s.root)
		if err != nil {
			return errors.Wrapf(err, "reading dir %s", s.root)
		}
		for _, e := range entries {
			if e.IsDir() && strings.HasPrefix(e.Name(), hp) {
				dirs = append(dirs, e.Name())
			}
		}
	}

	var names []string
	for _, d := range dirs {
		entries, err := os.ReadDir(filepath.Join(s.root, d))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "reading dir %s/%s", s.root, d)
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasPrefix(name, hp) {
				continue
			}
			names = append(names, name)
		}
	}

	// Hex encoding preserves the order of the encoded bytes.
	sort.Strings(names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		key, err := hex.DecodeString(name)
		if err != nil {
			continue
		}
		val, err := os.ReadFile(filepath.Join(s.root, dirName(name), name))
		if os.IsNotExist(err) {
			// Deleted since the directory was read.
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "reading %s", name)
		}
		if err = f(key, val); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) lockpath() string {
	return filepath.Join(s.root, ".lock")
}

// Checkpoint implements store.Checkpointer.
func (s *Store) Checkpoint(ctx context.Context, w io.Writer) error {
	if err := s.flocker.Lock(s.lockpath()); err != nil {
		return errors.Wrap(err, "locking store")
	}
	defer s.flocker.Unlock(s.lockpath())

	return store.WriteCheckpoint(ctx, s, w)
}

// Recover implements store.Checkpointer.
func (s *Store) Recover(ctx context.Context, r io.Reader) error {
	if err := s.flocker.Lock(s.lockpath()); err != nil {
		return errors.Wrap(err, "locking store")
	}
	defer s.flocker.Unlock(s.lockpath())

	return store.ReadCheckpoint(ctx, s, r)
}

// Close implements io.Closer.
func (s *Store) Close() error {
	return nil
}

func init() {
	store.Register("file", func(_ context.Context, conf map[string]interface{}) (store.Backend, error) {
		root, ok := conf["root"].(string)
		if !ok {
			return nil, errors.New(`missing "root" parameter`)
		}
		return New(root)
	})
}
