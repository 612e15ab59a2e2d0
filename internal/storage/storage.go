// Package storage persists per-module configuration data to disk, one
// opaque byte container per (module, datastore) pair, shaped exactly as
// spec §6 names it: "{repo_root}/data/{module_name}.{datastore}". The
// commit pipeline's stored step (§4.G) writes through this package; the
// validator (§4.F) reads through it to load DEP-only trees that are not
// already resident in a mod-info.
//
// Directory bootstrap goes through pkg/filesys, every step is logged
// structurally through zap, and errors are classified through pkg/errors.
// Each module/datastore pair owns one small file, replaced atomically
// (write-temp-then-rename) on every store, since configuration data is read
// far more often than it is written and has no need for WAL-style
// segmentation.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sr-shim/shimrepo/internal/modindex"
	"github.com/sr-shim/shimrepo/pkg/errors"
	"github.com/sr-shim/shimrepo/pkg/filesys"
	"github.com/sr-shim/shimrepo/pkg/options"
	"go.uber.org/zap"
)

// Store is the per-module, per-datastore persistence layer.
type Store struct {
	dataDir string
	log     *zap.SugaredLogger
}

// Config encapsulates the configuration parameters required to initialize a
// Store.
type Config struct {
	Options *options.Options
	Logger  *zap.SugaredLogger
}

// New creates the data directory if needed and returns a Store rooted at it.
func New(ctx context.Context, config *Config) (*Store, error) {
	if config == nil || config.Options == nil || config.Logger == nil {
		return nil, fmt.Errorf("storage: invalid configuration")
	}

	dataDir := filepath.Join(config.Options.RepoRoot, config.Options.DataDirectory)
	config.Logger.Infow("initializing module data store", "dataDir", dataDir)

	if err := filesys.CreateDir(dataDir, 0755, true); err != nil {
		return nil, errors.NewStorageError(err, errors.ErrorCodeIO, "failed to create data directory").
			WithPath(dataDir).WithDetail("permission", "0755").WithDetail("forceCreate", true)
	}

	return &Store{dataDir: dataDir, log: config.Logger}, nil
}

// path returns the conventional file path for a module/datastore pair.
func (s *Store) path(module string, ds modindex.Datastore) string {
	return filepath.Join(s.dataDir, module+"."+ds.String())
}

// Load reads a module's persisted data for a datastore. A missing file is
// not an error: it represents a module with no data yet, and Load returns
// (nil, false, nil).
func (s *Store) Load(module string, ds modindex.Datastore) ([]byte, bool, error) {
	p := s.path(module, ds)
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errors.NewStorageError(err, errors.ErrorCodeIO, "failed to read module data").
			WithPath(p).WithFileName(filepath.Base(p))
	}
	return data, true, nil
}

// Store atomically replaces a module's persisted data for a datastore:
// write to a sibling temp file, fsync, then rename over the target so a
// crash mid-write never leaves a half-written file in place.
func (s *Store) Store(module string, ds modindex.Datastore, data []byte) error {
	p := s.path(module, ds)
	tmp := p + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "failed to open temp file for module data").
			WithPath(tmp).WithFileName(filepath.Base(tmp))
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.NewStorageError(err, errors.ErrorCodeIO, "failed to write module data").
			WithPath(tmp).WithFileName(filepath.Base(tmp))
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.NewStorageError(err, errors.ErrorCodeIO, "failed to sync module data").
			WithPath(tmp).WithFileName(filepath.Base(tmp))
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.NewStorageError(err, errors.ErrorCodeIO, "failed to close module data").
			WithPath(tmp).WithFileName(filepath.Base(tmp))
	}

	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return errors.NewStorageError(err, errors.ErrorCodeIO, "failed to finalize module data").
			WithPath(p).WithFileName(filepath.Base(p))
	}

	s.log.Infow("module data stored", "module", module, "datastore", ds.String(), "bytes", len(data))
	return nil
}

// Delete removes a module's persisted data for a datastore. A missing file
// is not an error.
func (s *Store) Delete(module string, ds modindex.Datastore) error {
	p := s.path(module, ds)
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return errors.NewStorageError(err, errors.ErrorCodeIO, "failed to delete module data").
			WithPath(p).WithFileName(filepath.Base(p))
	}
	return nil
}
