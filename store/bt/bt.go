// Package bt implements a backend on Google Cloud Bigtable.
package bt

import (
	"context"

	"cloud.google.com/go/bigtable"
	"github.com/pkg/errors"
	"google.golang.org/api/option"

	"github.com/brightchain/brightchain"
	"github.com/brightchain/brightchain/store"
)

var (
	_ store.Backend     = &Store{}
	_ store.MultiPutter = &Store{}
)

// Store is a Google Cloud Bigtable-backed implementation of store.Backend.
// Each pair is a row whose key is the pair's key,
// with the value in a single cell.
type Store struct {
	c *bigtable.Client
	t *bigtable.Table
}

// The column family holding values must exist in the table.
const (
	Family = "v"
	column = "v"
)

var latest = bigtable.RowFilter(bigtable.LatestNFilter(1))

// New produces a new Store using the named table.
func New(c *bigtable.Client, table string) *Store {
	return &Store{c: c, t: c.Open(table)}
}

// Has implements store.Backend.
func (s *Store) Has(ctx context.Context, key []byte) (bool, error) {
	row, err := s.t.ReadRow(ctx, string(key), bigtable.RowFilter(bigtable.ChainFilters(bigtable.LatestNFilter(1), bigtable.StripValueFilter())))
	if err != nil {
		return false, errors.Wrapf(err, "reading row %x", key)
	}
	return len(row[Family]) > 0, nil
}

// Get implements store.Backend.
func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	row, err := s.t.ReadRow(ctx, string(key), latest)
	if err != nil {
		return nil, errors.Wrapf(err, "reading row %x", key)
	}
	items := row[Family]
	if len(items) == 0 {
		return nil, errors.Wrapf(brightchain.ErrNotFound, "row %x", key)
	}
	return items[0].Value, nil
}

func putMutation(val []byte) *bigtable.Mutation {
	mut := bigtable.NewMutation()
	mut.DeleteCellsInColumn(Family, column)
	mut.Set(Family, column, bigtable.Now(), val)
	return mut
}

// Put implements store.Backend.
func (s *Store) Put(ctx context.Context, key, val []byte) error {
	return errors.Wrapf(s.t.Apply(ctx, string(key), putMutation(val)), "writing row %x", key)
}

// PutMulti implements store.MultiPutter.
func (s *Store) PutMulti(ctx context.Context, kvs []store.KV) error {
	var (
		keys = make([]string, 0, len(kvs))
		muts = make([]*bigtable.Mutation, 0, len(kvs))
	)
	for _, kv := range kvs {
		keys = append(keys, string(kv.Key))
		muts = append(muts, putMutation(kv.Val))
	}
	errs, err := s.t.ApplyBulk(ctx, keys, muts)
	if err != nil {
		return errors.Wrap(err, "writing rows")
	}
	var errmap store.MultiErr
	for i, err := range errs {
		if err != nil {
			if errmap == nil {
				errmap = make(store.MultiErr)
			}
			errmap[keys[i]] = err
		}
	}
	if errmap == nil {
		return nil
	}
	return errmap
}

// Delete implements store.Backend.
func (s *Store) Delete(ctx context.Context, key []byte) error {
	mut := bigtable.NewMutation()
	mut.DeleteRow()
	return errors.Wrapf(s.t.Apply(ctx, string(key), mut), "deleting row %x", key)
}

// Scan implements store.Backend.
func (s *Store) Scan(ctx context.Context, prefix []byte, f func(key, val []byte) error) error {
	var innerErr error
	rowFn := func(row bigtable.Row) bool {
		items := row[Family]
		if len(items) == 0 {
			return true
		}
		if err := f([]byte(row.Key()), items[0].Value); err != nil {
			innerErr = err
			return false
		}
		return true
	}
	err := s.t.ReadRows(ctx, bigtable.PrefixRange(string(prefix)), rowFn, latest)
	if innerErr != nil {
		return innerErr
	}
	return errors.Wrap(err, "reading rows")
}

// Close closes the Bigtable client.
func (s *Store) Close() error {
	return s.c.Close()
}

func init() {
	store.Register("bt", func(ctx context.Context, conf map[string]interface{}) (store.Backend, error) {
		project, ok := conf["project"].(string)
		if !ok {
			return nil, errors.New(`missing "project" parameter`)
		}
		instance, ok := conf["instance"].(string)
		if !ok {
			return nil, errors.New(`missing "instance" parameter`)
		}
		table, ok := conf["table"].(string)
		if !ok {
			return nil, errors.New(`missing "table" parameter`)
		}

		var options []option.ClientOption
		if creds, ok := conf["creds"].(string); ok {
			options = append(options, option.WithCredentialsFile(creds))
		}
		c, err := bigtable.NewClient(ctx, project, instance, options...)
		if err != nil {
			return nil, errors.Wrap(err, "creating bigtable client")
		}
		return New(c, table), nil
	})
}
