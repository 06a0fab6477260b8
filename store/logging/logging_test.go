package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/brightchain/brightchain/store/mem"
	"github.com/brightchain/brightchain/testutil"
)

func TestStore(t *testing.T) {
	log := logrus.New()
	log.SetOutput(new(bytes.Buffer))
	testutil.Backend(context.Background(), t, New(mem.New(), log))
}

func TestLogs(t *testing.T) {
	buf := new(bytes.Buffer)
	log := logrus.New()
	log.SetOutput(buf)
	log.SetLevel(logrus.DebugLevel)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})

	ctx := context.Background()
	s := New(mem.New(), log)
	require.NoError(t, s.Put(ctx, []byte("b/\x01\x02"), []byte("v")))
	_, err := s.Get(ctx, []byte("absent"))
	require.Error(t, err)

	out := buf.String()
	require.Contains(t, out, "op=Put")
	require.Contains(t, out, "key=b/0102")
	require.Contains(t, out, "level=error")
	require.Contains(t, out, "op=Get")
}

func TestLogKey(t *testing.T) {
	require.Equal(t, "m/abc", logKey([]byte("m/abc")))
	require.Equal(t, "x/00ff", logKey([]byte{'x', '/', 0, 0xff}))
}
