// Package sqlite3 implements a backend on a Sqlite database.
package sqlite3

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3" // register the sqlite3 type for sql.Open
	"github.com/pkg/errors"

	"github.com/brightchain/brightchain/store"
	"github.com/brightchain/brightchain/store/sqlstore"
)

// Schema is the SQL that New executes.
// It creates the kv table if it does not exist.
// (If it does exist, it must have the columns and constraints described here.)
const Schema = `
CREATE TABLE IF NOT EXISTS kv (
  k BLOB PRIMARY KEY NOT NULL,
  v BLOB NOT NULL
);
`

// New produces a new backend using db for storage.
func New(ctx context.Context, db *sql.DB) (*sqlstore.Store, error) {
	return sqlstore.New(ctx, db, Schema)
}

// Open opens the Sqlite database at conn and produces a backend on it.
func Open(ctx context.Context, conn string) (*sqlstore.Store, error) {
	db, err := sql.Open("sqlite3", conn)
	if err != nil {
		return nil, errors.Wrap(err, "opening db")
	}
	// Sqlite allows one writer at a time.
	db.SetMaxOpenConns(1)
	s, err := New(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func init() {
	store.Register("sqlite3", func(ctx context.Context, conf map[string]interface{}) (store.Backend, error) {
		conn, ok := conf["conn"].(string)
		if !ok {
			return nil, errors.New(`missing "conn" parameter`)
		}
		return Open(ctx, conn)
	})
}
