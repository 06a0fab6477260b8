// Package pg implements a backend on a Postgresql database.
package pg

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq" // register the postgres type for sql.Open
	"github.com/pkg/errors"

	"github.com/brightchain/brightchain/store"
	"github.com/brightchain/brightchain/store/sqlstore"
)

// Schema is the SQL that New executes.
// It creates the kv table if it does not exist.
// (If it does exist, it must have the columns and constraints described here.)
const Schema = `
CREATE TABLE IF NOT EXISTS kv (
  k BYTEA PRIMARY KEY NOT NULL,
  v BYTEA NOT NULL
);
`

// New produces a new backend using db for storage.
func New(ctx context.Context, db *sql.DB) (*sqlstore.Store, error) {
	return sqlstore.New(ctx, db, Schema)
}

func init() {
	store.Register("pg", func(ctx context.Context, conf map[string]interface{}) (store.Backend, error) {
		conn, ok := conf["conn"].(string)
		if !ok {
			return nil, errors.New(`missing "conn" parameter`)
		}
		db, err := sql.Open("postgres", conn)
		if err != nil {
			return nil, errors.Wrap(err, "opening db")
		}
		s, err := New(ctx, db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return s, nil
	})
}
