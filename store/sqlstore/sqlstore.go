// Package sqlstore implements a backend on a SQL database with a single key-value table.
// The sqlite3 and pg packages supply the schema and driver.
package sqlstore

import (
	"context"
	"database/sql"
	"io"

	"github.com/bobg/sqlutil"
	"github.com/pkg/errors"

	"github.com/brightchain/brightchain"
	"github.com/brightchain/brightchain/store"
)

var (
	_ store.Backend      = &Store{}
	_ store.MultiPutter  = &Store{}
	_ store.Checkpointer = &Store{}
)

// Store is a SQL-based backend.
// The table must be named kv,
// with a binary primary key column k
// and a binary column v,
// and the database must order k bytewise.
type Store struct {
	db *sql.DB
}

// New produces a new Store using db for storage.
// It executes schema first,
// which should create the kv table if it does not exist.
func New(ctx context.Context, db *sql.DB, schema string) (*Store, error) {
	_, err := db.ExecContext(ctx, schema)
	return &Store{db: db}, errors.Wrap(err, "creating schema")
}

// Has implements store.Backend.
func (s *Store) Has(ctx context.Context, key []byte) (bool, error) {
	const q = `SELECT 1 FROM kv WHERE k = $1`

	var one int
	err := s.db.QueryRowContext(ctx, q, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, errors.Wrapf(err, "querying %x", key)
}

// Get implements store.Backend.
func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	const q = `SELECT v FROM kv WHERE k = $1`

	var val []byte
	err := s.db.QueryRowContext(ctx, q, key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(brightchain.ErrNotFound, "key %x", key)
	}
	return val, errors.Wrapf(err, "querying %x", key)
}

const upsert = `INSERT INTO kv (k, v) VALUES ($1, $2) ON CONFLICT (k) DO UPDATE SET v = excluded.v`

// Put implements store.Backend.
func (s *Store) Put(ctx context.Context, key, val []byte) error {
	_, err := s.db.ExecContext(ctx, upsert, key, nonNil(val))
	return errors.Wrapf(err, "storing %x", key)
}

// PutMulti implements store.MultiPutter.
// All pairs are written in one database transaction.
func (s *Store) PutMulti(ctx context.Context, kvs []store.KV) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsert)
	if err != nil {
		return errors.Wrap(err, "preparing statement")
	}
	defer stmt.Close()

	for _, kv := range kvs {
		if _, err = stmt.ExecContext(ctx, kv.Key, nonNil(kv.Val)); err != nil {
			return errors.Wrapf(err, "storing %x", kv.Key)
		}
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

// Delete implements store.Backend.
func (s *Store) Delete(ctx context.Context, key []byte) error {
	const q = `DELETE FROM kv WHERE k = $1`
	_, err := s.db.ExecContext(ctx, q, key)
	return errors.Wrapf(err, "deleting %x", key)
}

// Scan implements store.Backend.
// Rows are read to completion before f is called,
// so f may write to the same database.
func (s *Store) Scan(ctx context.Context, prefix []byte, f func(key, val []byte) error) error {
	var (
		q    string
		args []interface{}
	)
	switch end := store.PrefixEnd(prefix); {
	case len(prefix) == 0:
		q = `SELECT k, v FROM kv ORDER BY k`
	case end == nil:
		q = `SELECT k, v FROM kv WHERE k >= $1 ORDER BY k`
		args = []interface{}{prefix}
	default:
		q = `SELECT k, v FROM kv WHERE k >= $1 AND k < $2 ORDER BY k`
		args = []interface{}{prefix, end}
	}

	var kvs []store.KV
	args = append(args, func(k, v []byte) {
		kvs = append(kvs, store.KV{Key: k, Val: v})
	})
	if err := sqlutil.ForQueryRows(ctx, s.db, q, args...); err != nil {
		return errors.Wrap(err, "scanning")
	}

	for _, kv := range kvs {
		if err := f(kv.Key, kv.Val); err != nil {
			return err
		}
	}
	return nil
}

// Checkpoint implements store.Checkpointer.
func (s *Store) Checkpoint(ctx context.Context, w io.Writer) error {
	return store.WriteCheckpoint(ctx, s, w)
}

// Recover implements store.Checkpointer.
func (s *Store) Recover(ctx context.Context, r io.Reader) error {
	return store.ReadCheckpoint(ctx, s, r)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
