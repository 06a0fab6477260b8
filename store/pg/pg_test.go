package pg

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brightchain/brightchain/store/sqlstore"
	"github.com/brightchain/brightchain/testutil"
)

func TestStore(t *testing.T) {
	withStore(t, func(ctx context.Context, s *sqlstore.Store) {
		testutil.Backend(ctx, t, s)
	})
}

const connVar = "BC_PG_TESTING_CONN"

func withStore(t *testing.T, f func(context.Context, *sqlstore.Store)) {
	connstr := os.Getenv(connVar)
	if connstr == "" {
		t.Skipf("to run %s, set %s to a valid Postgresql connection string", t.Name(), connVar)
	}

	db, err := sql.Open("postgres", connstr)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()

	_, err = db.ExecContext(ctx, `DROP TABLE IF EXISTS kv`)
	require.NoError(t, err)

	s, err := New(ctx, db)
	require.NoError(t, err)

	f(ctx, s)
}
