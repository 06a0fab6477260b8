// Package config loads the YAML configuration of a brightchain store
// and builds the backend and cache manager it describes.
package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/brightchain/brightchain"
	"github.com/brightchain/brightchain/cache"
	"github.com/brightchain/brightchain/store"
	"github.com/brightchain/brightchain/store/logging"
	"github.com/brightchain/brightchain/store/lru"
	"github.com/brightchain/brightchain/whiten"

	_ "github.com/brightchain/brightchain/store/badger"
	_ "github.com/brightchain/brightchain/store/bt"
	_ "github.com/brightchain/brightchain/store/compress"
	_ "github.com/brightchain/brightchain/store/file"
	_ "github.com/brightchain/brightchain/store/gcs"
	_ "github.com/brightchain/brightchain/store/mem"
	_ "github.com/brightchain/brightchain/store/pg"
	_ "github.com/brightchain/brightchain/store/replica"
	_ "github.com/brightchain/brightchain/store/rpc"
	_ "github.com/brightchain/brightchain/store/sqlite3"
)

// EnvVar names the environment variable Load reads the config path from.
const EnvVar = "BRIGHTCHAIN_CONFIG"

// Config is the configuration of a brightchain store.
type Config struct {
	// BasePath is the directory holding the root identifier
	// and, for local backends, the namespace directory.
	// It must exist.
	BasePath string `yaml:"base_path"`

	// Namespace, if set, must match the name derived from the root identifier.
	Namespace string `yaml:"namespace,omitempty"`

	// ReadCache puts an LRU read cache in front of the backend.
	ReadCache bool `yaml:"read_cache"`

	// ReadCacheSize is the number of entries in the read cache.
	// Default: 1024
	ReadCacheSize int `yaml:"read_cache_size"`

	// BlockSize is the size of blocks new sources are split into,
	// by name ("message") or byte count ("512").
	// Default: message
	BlockSize string `yaml:"block_size"`

	// TupleCount is the number of members in each tuple. At least 2.
	// Default: 5
	TupleCount int `yaml:"tuple_count"`

	// LogLevel is a logrus level name.
	// At "debug" every backend operation is logged.
	// Default: info
	LogLevel string `yaml:"log_level"`

	// SweepInterval is the time between expiration sweeps.
	// Default: 1h
	SweepInterval string `yaml:"sweep_interval"`

	// Backend selects and configures the storage backend.
	Backend BackendConfig `yaml:"backend"`
}

// BackendConfig names a registered backend type and its parameters.
type BackendConfig struct {
	Type   string                 `yaml:"type"`
	Params map[string]interface{} `yaml:"params,omitempty"`
}

// Default returns a Config with every default applied
// and BasePath set to the current directory.
func Default() *Config {
	return &Config{
		BasePath:      ".",
		ReadCacheSize: 1024,
		BlockSize:     brightchain.Message.String(),
		TupleCount:    whiten.DefaultTupleCount,
		LogLevel:      logrus.InfoLevel.String(),
		SweepInterval: "1h",
		Backend:       BackendConfig{Type: "mem"},
	}
}

// Load loads the config file named by the BRIGHTCHAIN_CONFIG environment variable.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, errors.Errorf("%s environment variable not set", EnvVar)
	}
	return LoadFile(path)
}

// LoadFile loads a config file over the defaults,
// expands environment variables in BasePath,
// and validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return Parse(data)
}

// Parse is like LoadFile but takes the YAML text directly.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}
	c.BasePath = os.ExpandEnv(c.BasePath)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the config for errors.
func (c *Config) Validate() error {
	info, err := os.Stat(c.BasePath)
	if err != nil {
		return errors.Wrapf(err, "base_path %s", c.BasePath)
	}
	if !info.IsDir() {
		return errors.Errorf("base_path %s is not a directory", c.BasePath)
	}
	if c.ReadCache && c.ReadCacheSize <= 0 {
		return errors.Errorf("read_cache_size %d must be positive", c.ReadCacheSize)
	}
	if _, err = c.Size(); err != nil {
		return err
	}
	if err = whiten.CheckTupleCount(c.TupleCount); err != nil {
		return errors.Wrap(err, "tuple_count")
	}
	if _, err = logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "log_level")
	}
	if d, err := time.ParseDuration(c.SweepInterval); err != nil {
		return errors.Wrap(err, "sweep_interval")
	} else if d <= 0 {
		return errors.Errorf("sweep_interval %s must be positive", d)
	}
	if c.Backend.Type == "" {
		return errors.New("backend type not set")
	}
	return nil
}

// Size is the configured block size.
func (c *Config) Size() (brightchain.BlockSize, error) {
	s, err := brightchain.ParseBlockSize(c.BlockSize)
	return s, errors.Wrap(err, "block_size")
}

// Sweep is the configured sweep interval.
func (c *Config) Sweep() time.Duration {
	d, _ := time.ParseDuration(c.SweepInterval)
	return d
}

// Logger produces a logger at the configured level.
func (c *Config) Logger() *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		log.SetLevel(level)
	}
	return log
}

// Local backend types get a location beneath the namespace directory
// unless their params already name one.
var pathParams = map[string]struct {
	param string
	file  string
}{
	"file":    {param: "root"},
	"badger":  {param: "path"},
	"sqlite3": {param: "conn", file: "kv.db"},
}

// OpenStore creates the configured backend.
// For local backend types,
// dir is the namespace directory that holds the data.
// The backend is wrapped in a read cache if ReadCache is set,
// and in a logging wrapper if log is at debug level.
func (c *Config) OpenStore(ctx context.Context, dir string, log *logrus.Logger) (store.Backend, error) {
	params := make(map[string]interface{})
	for k, v := range c.Backend.Params {
		params[k] = v
	}
	if pp, ok := pathParams[c.Backend.Type]; ok {
		if _, ok := params[pp.param]; !ok {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, errors.Wrapf(err, "creating %s", dir)
			}
			path := dir
			if pp.file != "" {
				path = filepath.Join(dir, pp.file)
			}
			params[pp.param] = path
		}
	}
	if c.Backend.Type == "badger" {
		if _, ok := params["logger"]; !ok {
			params["logger"] = log
		}
	}

	b, err := store.Create(ctx, c.Backend.Type, params)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s backend", c.Backend.Type)
	}
	if c.ReadCache {
		b, err = lru.New(b, c.ReadCacheSize)
		if err != nil {
			return nil, errors.Wrap(err, "creating read cache")
		}
	}
	if log.IsLevelEnabled(logrus.DebugLevel) {
		b = logging.New(b, log)
	}
	return b, nil
}

// OpenManager opens the cache manager for the configured store.
func (c *Config) OpenManager(ctx context.Context, log *logrus.Logger) (*cache.Manager, error) {
	return cache.Open(ctx, cache.OpenConfig{
		Config:    cache.Config{Logger: log},
		BasePath:  c.BasePath,
		Namespace: c.Namespace,
		NewBackend: func(ctx context.Context, dir string) (store.Backend, error) {
			return c.OpenStore(ctx, dir, log)
		},
	})
}
