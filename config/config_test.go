package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/brightchain/brightchain"
	"github.com/brightchain/brightchain/brighten"
	"github.com/brightchain/brightchain/store/logging"
	"github.com/brightchain/brightchain/store/lru"
)

func TestDefaults(t *testing.T) {
	dir := t.TempDir()
	c, err := Parse([]byte("base_path: " + dir + "\n"))
	require.NoError(t, err)

	require.Equal(t, dir, c.BasePath)
	require.Equal(t, 1024, c.ReadCacheSize)
	require.Equal(t, 5, c.TupleCount)
	require.Equal(t, "mem", c.Backend.Type)
	require.Equal(t, time.Hour, c.Sweep())
	require.Equal(t, logrus.InfoLevel, c.Logger().GetLevel())

	size, err := c.Size()
	require.NoError(t, err)
	require.Equal(t, brightchain.Message, size)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BC_TEST_BASE", dir)

	path := filepath.Join(dir, "config.yml")
	err := os.WriteFile(path, []byte(`
base_path: $BC_TEST_BASE
read_cache: true
read_cache_size: 16
block_size: "1024"
tuple_count: 3
log_level: debug
sweep_interval: 5m
backend:
  type: file
`), 0644)
	require.NoError(t, err)

	t.Setenv(EnvVar, path)
	c, err := Load()
	require.NoError(t, err)

	require.Equal(t, dir, c.BasePath)
	require.True(t, c.ReadCache)
	require.Equal(t, 16, c.ReadCacheSize)
	require.Equal(t, 3, c.TupleCount)
	require.Equal(t, 5*time.Minute, c.Sweep())
	require.Equal(t, "file", c.Backend.Type)

	size, err := c.Size()
	require.NoError(t, err)
	require.Equal(t, brightchain.Tiny, size)
}

func TestInvalid(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(file, nil, 0644))

	cases := map[string]string{
		"missing_base": "base_path: " + filepath.Join(dir, "absent"),
		"base_not_dir": "base_path: " + file,
		"tuple_count":  "base_path: " + dir + "\ntuple_count: 1",
		"block_size":   "base_path: " + dir + "\nblock_size: 1000",
		"log_level":    "base_path: " + dir + "\nlog_level: loud",
		"sweep":        "base_path: " + dir + "\nsweep_interval: -1s",
		"cache_size":   "base_path: " + dir + "\nread_cache: true\nread_cache_size: 0",
		"no_backend":   "base_path: " + dir + "\nbackend: {type: \"\"}",
		"unparseable":  "base_path: [",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(text))
			require.Error(t, err)
		})
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	c, err := Parse([]byte("base_path: " + dir + "\nread_cache: true\nlog_level: debug\nbackend: {type: file}\n"))
	require.NoError(t, err)

	log := c.Logger()
	log.SetOutput(new(bytes.Buffer))

	nsdir := filepath.Join(dir, "ns")
	b, err := c.OpenStore(ctx, nsdir, log)
	require.NoError(t, err)
	defer b.Close()

	require.IsType(t, &logging.Store{}, b)

	info, err := os.Stat(nsdir)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	c.LogLevel = "info"
	b2, err := c.OpenStore(ctx, filepath.Join(dir, "ns2"), c.Logger())
	require.NoError(t, err)
	defer b2.Close()
	require.IsType(t, &lru.Store{}, b2)
}

func TestOpenManager(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	c, err := Parse([]byte("base_path: " + dir + "\nbackend: {type: sqlite3}\n"))
	require.NoError(t, err)

	log := c.Logger()
	log.SetOutput(new(bytes.Buffer))

	m, err := c.OpenManager(ctx, log)
	require.NoError(t, err)

	size, err := c.Size()
	require.NoError(t, err)
	_, handle, err := brighten.Write(ctx, m, bytes.NewReader([]byte("hello")), brighten.BlockSize(size), brighten.TupleCount(c.TupleCount))
	require.NoError(t, err)

	id := m.RootID()
	require.NoError(t, m.Close())

	_, err = os.Stat(filepath.Join(dir, m.Namespace(), "kv.db"))
	require.NoError(t, err)

	// Reopening finds the same root and the stored source.
	m, err = c.OpenManager(ctx, log)
	require.NoError(t, err)
	defer m.Close()
	require.Equal(t, id, m.RootID())

	buf := new(bytes.Buffer)
	_, err = brighten.ReadSource(ctx, m, handle.SourceDataHash, buf)
	require.NoError(t, err)
	require.Equal(t, "hello", buf.String())
}
