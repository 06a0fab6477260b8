// Package badger implements a backend on a Badger key-value database,
// a log-structured store with native backup and restore.
package badger

import (
	"context"
	"io"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/brightchain/brightchain"
	"github.com/brightchain/brightchain/store"
)

var (
	_ store.Backend      = &Store{}
	_ store.MultiPutter  = &Store{}
	_ store.Checkpointer = &Store{}
)

// Config configures a Store.
type Config struct {
	// Path is the database directory.
	// It is ignored when InMemory is true.
	Path     string
	InMemory bool

	// Logger receives Badger's own log output.
	// When nil, Badger does not log.
	Logger *logrus.Logger
}

// Store is a Badger-based backend.
type Store struct {
	db *badger.DB
}

// maxPendingWrites bounds the writes in flight during Recover.
const maxPendingWrites = 256

// New opens a Store.
func New(conf Config) (*Store, error) {
	var opts badger.Options
	if conf.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(conf.Path)
	}
	if conf.Logger != nil {
		opts = opts.WithLogger(conf.Logger)
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "opening badger db")
	}
	return &Store{db: db}, nil
}

// Has implements store.Backend.
func (s *Store) Has(_ context.Context, key []byte) (bool, error) {
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		found = err == nil
		return err
	})
	return found, errors.Wrapf(err, "looking up %x", key)
}

// Get implements store.Backend.
func (s *Store) Get(_ context.Context, key []byte) ([]byte, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errors.Wrapf(brightchain.ErrNotFound, "key %x", key)
	}
	return val, errors.Wrapf(err, "getting %x", key)
}

// Put implements store.Backend.
func (s *Store) Put(_ context.Context, key, val []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
	return errors.Wrapf(err, "storing %x", key)
}

// PutMulti implements store.MultiPutter using a write batch.
func (s *Store) PutMulti(_ context.Context, kvs []store.KV) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, kv := range kvs {
		if err := wb.Set(kv.Key, kv.Val); err != nil {
			return errors.Wrapf(err, "batching %x", kv.Key)
		}
	}
	return errors.Wrap(wb.Flush(), "flushing write batch")
}

// Delete implements store.Backend.
func (s *Store) Delete(_ context.Context, key []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	return errors.Wrapf(err, "deleting %x", key)
}

// Scan implements store.Backend.
// It iterates over a read-only snapshot,
// so f may write to the store.
func (s *Store) Scan(ctx context.Context, prefix []byte, f func(key, val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return errors.Wrapf(err, "reading value of %x", item.Key())
			}
			if err = f(item.KeyCopy(nil), val); err != nil {
				return err
			}
		}
		return nil
	})
}

// Checkpoint implements store.Checkpointer.
// It writes a full Badger backup, zstd-compressed.
func (s *Store) Checkpoint(_ context.Context, w io.Writer) error {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return errors.Wrap(err, "creating zstd writer")
	}
	if _, err = s.db.Backup(enc, 0); err != nil {
		enc.Close()
		return errors.Wrap(err, "backing up")
	}
	return errors.Wrap(enc.Close(), "flushing checkpoint")
}

// Recover implements store.Checkpointer.
// It loads a stream written by Checkpoint.
func (s *Store) Recover(_ context.Context, r io.Reader) error {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return errors.Wrap(err, "creating zstd reader")
	}
	defer dec.Close()

	return errors.Wrap(s.db.Load(dec, maxPendingWrites), "loading backup")
}

// Close implements io.Closer.
func (s *Store) Close() error {
	return s.db.Close()
}

func init() {
	store.Register("badger", func(_ context.Context, conf map[string]interface{}) (store.Backend, error) {
		var c Config
		c.InMemory, _ = conf["in_memory"].(bool)
		if !c.InMemory {
			path, ok := conf["path"].(string)
			if !ok {
				return nil, errors.New(`missing "path" parameter`)
			}
			c.Path = path
		}
		c.Logger, _ = conf["logger"].(*logrus.Logger)
		return New(c)
	})
}
