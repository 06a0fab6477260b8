package cache

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/bobg/flock"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/brightchain/brightchain"
	"github.com/brightchain/brightchain/store"
)

const (
	rootFileName = "root.id"
	rootLockName = "root.lock"
)

var rootLocker flock.Locker

// LoadRoot reads the store identifier kept in basePath,
// creating a new one if there is none,
// and returns it with the namespace name derived from it.
//
// If namespace is non-empty it must equal the derived name;
// otherwise the error matches brightchain.ErrConflict.
func LoadRoot(basePath, namespace string) (uuid.UUID, string, error) {
	info, err := os.Stat(basePath)
	if err != nil {
		return uuid.Nil, "", errors.Wrapf(err, "statting base path %s", basePath)
	}
	if !info.IsDir() {
		return uuid.Nil, "", errors.Errorf("base path %s is not a directory", basePath)
	}

	lockpath := filepath.Join(basePath, rootLockName)
	if err = rootLocker.Lock(lockpath); err != nil {
		return uuid.Nil, "", errors.Wrapf(err, "locking %s", lockpath)
	}
	defer rootLocker.Unlock(lockpath)

	path := filepath.Join(basePath, rootFileName)

	var id uuid.UUID
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		id = uuid.New()
		if err = os.WriteFile(path, []byte(id.String()+"\n"), 0644); err != nil {
			return uuid.Nil, "", errors.Wrapf(err, "writing %s", path)
		}
	case err != nil:
		return uuid.Nil, "", errors.Wrapf(err, "reading %s", path)
	default:
		id, err = uuid.Parse(strings.TrimSpace(string(data)))
		if err != nil {
			return uuid.Nil, "", errors.Wrapf(err, "parsing %s", path)
		}
	}

	name := brightchain.NamespaceName(id)
	if namespace != "" && namespace != name {
		return uuid.Nil, "", errors.Wrapf(brightchain.ErrConflict, "namespace %s does not match root %s (%s)", namespace, id, name)
	}
	return id, name, nil
}

// OpenConfig configures Open.
type OpenConfig struct {
	Config

	// BasePath is the directory holding the root identifier. Required.
	BasePath string

	// Namespace, if set, must match the name derived from the root identifier.
	Namespace string

	// NewBackend creates the backend at a path beneath BasePath
	// named for the namespace.
	// It is used only when Config.Backend is nil.
	NewBackend func(ctx context.Context, path string) (store.Backend, error)
}

// Open produces a Manager tied to the root identifier in conf.BasePath.
// The root is persisted in the backend as a block of kind root;
// if the backend already holds a different root,
// the error matches brightchain.ErrConflict.
func Open(ctx context.Context, conf OpenConfig) (*Manager, error) {
	id, ns, err := LoadRoot(conf.BasePath, conf.Namespace)
	if err != nil {
		return nil, err
	}

	if conf.Backend == nil {
		if conf.NewBackend == nil {
			return nil, errors.New("no backend configured")
		}
		conf.Backend, err = conf.NewBackend(ctx, filepath.Join(conf.BasePath, ns))
		if err != nil {
			return nil, errors.Wrapf(err, "creating backend for namespace %s", ns)
		}
	}

	m, err := New(conf.Config)
	if err != nil {
		return nil, err
	}
	if err = m.initRoot(ctx, id); err != nil {
		m.Close()
		return nil, err
	}
	m.rootID, m.namespace = id, ns
	return m, nil
}

func (m *Manager) initRoot(ctx context.Context, id uuid.UUID) error {
	rec, err := m.b.Get(ctx, []byte(rootKey))
	if errors.Is(err, brightchain.ErrNotFound) {
		rb, err := brightchain.NewRootBlock(id, brightchain.StorageContract{RequestTime: m.clock.Now()})
		if err != nil {
			return errors.Wrap(err, "creating root block")
		}
		if err = m.Set(ctx, rb, true); err != nil {
			return errors.Wrap(err, "storing root block")
		}
		return errors.Wrap(m.b.Put(ctx, []byte(rootKey), rb.ID[:]), "storing root record")
	}
	if err != nil {
		return errors.Wrap(err, "getting root record")
	}

	h, err := brightchain.HashFromBytes(rec)
	if err != nil {
		return errors.Wrap(err, "parsing root record")
	}
	rb, err := m.Get(ctx, h)
	if err != nil {
		return errors.Wrap(err, "getting root block")
	}
	got, err := brightchain.RootID(rb)
	if err != nil {
		return err
	}
	if got != id {
		return errors.Wrapf(brightchain.ErrConflict, "backend belongs to root %s, not %s", got, id)
	}
	return nil
}

// RootID is the store identifier the manager was opened with,
// or uuid.Nil if it was made with New.
func (m *Manager) RootID() uuid.UUID {
	return m.rootID
}

// Namespace is the namespace name derived from RootID.
func (m *Manager) Namespace() string {
	return m.namespace
}
