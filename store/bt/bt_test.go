package bt

import (
	"context"
	"testing"

	"cloud.google.com/go/bigtable"
	"cloud.google.com/go/bigtable/bttest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"

	"github.com/brightchain/brightchain/testutil"
)

func newTestStore(ctx context.Context, t *testing.T) *Store {
	srv, err := bttest.NewServer("localhost:0")
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	conn, err := grpc.Dial(srv.Addr, grpc.WithInsecure())
	require.NoError(t, err)

	admin, err := bigtable.NewAdminClient(ctx, "proj", "inst", option.WithGRPCConn(conn))
	require.NoError(t, err)
	require.NoError(t, admin.CreateTable(ctx, "kv"))
	require.NoError(t, admin.CreateColumnFamily(ctx, "kv", Family))

	c, err := bigtable.NewClient(ctx, "proj", "inst", option.WithGRPCConn(conn))
	require.NoError(t, err)
	return New(c, "kv")
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(ctx, t)
	defer s.Close()
	testutil.Backend(ctx, t, s)
}

func TestOverwrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(ctx, t)
	defer s.Close()

	for _, v := range []string{"one", "two", "three"} {
		require.NoError(t, s.Put(ctx, []byte("k"), []byte(v)))
	}
	got, err := s.Get(ctx, []byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("three"), got)
}
