// Package engine wires the eight components of the spec into a single
// top-level type: the shared segment (internal/shm), the module index
// (internal/modindex), the mod-info builder (internal/modinfo), the lock
// coordinator (internal/lockcoord), the edit/diff engine
// (internal/editdiff), the validator (internal/validator),
// the commit pipeline (internal/commit), and the subscription table
// (internal/subscription), backed by the per-module persistence layer
// (internal/storage).
//
// Engine uses a Config-struct constructor, a zap logger field, and an
// atomic.Bool guarding idempotent Close. There is no compaction concept in
// this domain (configuration data is small and replaced in place, not
// appended and merged); see DESIGN.md.
package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/sr-shim/shimrepo/internal/commit"
	"github.com/sr-shim/shimrepo/internal/editdiff"
	"github.com/sr-shim/shimrepo/internal/modindex"
	"github.com/sr-shim/shimrepo/internal/modinfo"
	"github.com/sr-shim/shimrepo/internal/schemalib"
	"github.com/sr-shim/shimrepo/internal/schemalib/memlib"
	"github.com/sr-shim/shimrepo/internal/session"
	"github.com/sr-shim/shimrepo/internal/shm"
	"github.com/sr-shim/shimrepo/internal/storage"
	"github.com/sr-shim/shimrepo/internal/subscription"
	"github.com/sr-shim/shimrepo/internal/validator"
	"github.com/sr-shim/shimrepo/pkg/options"
	shimerrors "github.com/sr-shim/shimrepo/pkg/errors"
	"go.uber.org/zap"
)

// ErrEngineClosed is returned when attempting to perform operations on a closed engine.
var ErrEngineClosed = errors.New("operation failed: cannot access closed engine")

// Engine is the main entry point: it owns the shared segment and every
// component built on top of it, and exposes module install/remove,
// subscribe, read, and commit as a cohesive API.
type Engine struct {
	opts   *options.Options
	log    *zap.SugaredLogger
	closed atomic.Bool

	seg      *shm.Segment
	idx      *modindex.Index
	store    *storage.Store
	lib      schemalib.Library
	builder  *modinfo.Builder
	val      *validator.Validator
	subs     *subscription.Table
	pipeline *commit.Pipeline
}

// Config holds all the parameters needed to initialize a new Engine.
// Library is optional; when nil, the in-memory reference schema library
// (internal/schemalib/memlib) is used.
type Config struct {
	Options *options.Options
	Library schemalib.Library
	Logger  *zap.SugaredLogger
}

// New creates and initializes a new Engine, attaching the shared segment,
// reconciling the module index against it, and wiring every downstream
// component over that same index and segment.
func New(ctx context.Context, config *Config) (*Engine, error) {
	opts := config.Options
	if opts == nil {
		d := options.NewDefaultOptions()
		opts = &d
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	log := config.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	shmDir := "/shm"
	var shmSize uint64 = options.MinSegmentSize
	if opts.ShmOptions != nil {
		if opts.ShmOptions.Directory != "" {
			shmDir = opts.ShmOptions.Directory
		}
		if opts.ShmOptions.Size > 0 {
			shmSize = opts.ShmOptions.Size
		}
	}

	segPath := filepath.Join(opts.RepoRoot, shmDir, shm.NameFor(opts.RepoRoot))
	if err := os.MkdirAll(filepath.Dir(segPath), 0755); err != nil {
		return nil, shimerrors.ClassifyDirectoryCreationError(err, filepath.Dir(segPath))
	}
	seg, err := shm.Attach(shm.Config{
		Path:        segPath,
		InitialSize: shmSize,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}

	idx, err := modindex.New(ctx, &modindex.Config{
		Segment: seg,
		LockDir: modindex.LockDirFor(opts.RepoRoot),
		Logger:  log,
	})
	if err != nil {
		seg.Detach()
		return nil, err
	}

	store, err := storage.New(ctx, &storage.Config{Options: opts, Logger: log})
	if err != nil {
		idx.Close()
		seg.Detach()
		return nil, err
	}

	lib := config.Library
	if lib == nil {
		lib = memlib.New()
	}

	builder := modinfo.NewBuilder(idx)
	val, err := validator.New(&validator.Config{Library: lib, Storage: store, Index: idx})
	if err != nil {
		idx.Close()
		seg.Detach()
		return nil, err
	}

	subs := subscription.New(seg, log)

	pipeline, err := commit.New(&commit.Config{
		Builder:       builder,
		Validator:     val,
		Subscriptions: subs,
		Storage:       store,
		Library:       lib,
		Tuning:        opts.Tuning,
		Logger:        log,
	})
	if err != nil {
		idx.Close()
		seg.Detach()
		return nil, err
	}

	return &Engine{
		opts:     opts,
		log:      log,
		seg:      seg,
		idx:      idx,
		store:    store,
		lib:      lib,
		builder:  builder,
		val:      val,
		subs:     subs,
		pipeline: pipeline,
	}, nil
}

// Install adds a module to the index (spec §4.B "install"). deps names
// the module's static schema dependency edges.
func (e *Engine) Install(ctx context.Context, name string, deps []modindex.DependencyEdge) (*modindex.ModuleRecord, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	return e.idx.Install(ctx, name, deps)
}

// RemoveModule removes a module from the index.
func (e *Engine) RemoveModule(ctx context.Context, name string) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return e.idx.Remove(ctx, name)
}

// Modules returns every installed module, in canonical lock order.
func (e *Engine) Modules() []*modindex.ModuleRecord {
	return e.idx.Modules()
}

// Module looks up an installed module by name.
func (e *Engine) Module(name string) (*modindex.ModuleRecord, error) {
	m, ok := e.idx.Lookup(name)
	if !ok {
		return nil, shimerrors.NewIndexError(nil, shimerrors.ErrorCodeNotFound, "module not found").
			WithOperation("Module").WithKey(name)
	}
	return m, nil
}

// ModuleStatus summarizes a module's per-datastore control-block state for
// administrative inspection (cmd/shimrepoctl's "module info").
type ModuleStatus struct {
	Name            string
	Offset          uint64
	Datastore       modindex.Datastore
	ApplyingChanges bool
	Owner           string
}

// ModuleStatus reports whether a commit is currently mid-flight
// (applying_changes) on name's ds control block, and which transaction
// owns it.
func (e *Engine) ModuleStatus(name string, ds modindex.Datastore) (ModuleStatus, error) {
	m, err := e.Module(name)
	if err != nil {
		return ModuleStatus{}, err
	}
	cb := m.ControlBlock(ds)
	return ModuleStatus{
		Name:            m.Name,
		Offset:          m.Offset,
		Datastore:       ds,
		ApplyingChanges: cb.ApplyingChanges(),
		Owner:           cb.Owner(),
	}, nil
}

// ForceUnlock administratively clears name's ds control block: it clears
// applying_changes (owned, per spec §5, by whatever transaction currently
// holds it) and releases the read/write lock. It exists for operators to
// recover a module/datastore a crashed commit left mid-flight, since the
// normal commit pipeline only clears applying_changes on its own
// done_notified/abort_notified transition.
func (e *Engine) ForceUnlock(name string, ds modindex.Datastore, write bool) error {
	m, err := e.Module(name)
	if err != nil {
		return err
	}
	cb := m.ControlBlock(ds)
	cb.ClearApplyingChanges(cb.Owner())
	cb.Unlock(write)
	return nil
}

// Subscribe registers a callback against a module's datastore-independent
// subscription list (spec §4.H).
func (e *Engine) Subscribe(
	ctx context.Context,
	moduleName string,
	priority int32,
	xpath string,
	opts subscription.Options,
	cb subscription.Callback,
	private any,
) (uint64, error) {
	if e.closed.Load() {
		return 0, ErrEngineClosed
	}
	m, err := e.Module(moduleName)
	if err != nil {
		return 0, err
	}
	return e.subs.Subscribe(ctx, m, priority, xpath, opts, cb, private)
}

// Unsubscribe removes a previously registered subscription.
func (e *Engine) Unsubscribe(ctx context.Context, moduleName string, id uint64) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	m, err := e.Module(moduleName)
	if err != nil {
		return err
	}
	return e.subs.Remove(ctx, m, id)
}

// NewSession starts a new external-interface session against a datastore
// (spec §6).
func (e *Engine) NewSession(id string, ds modindex.Datastore) *session.Session {
	return session.New(id, ds)
}

// Commit drives sess's pending edit through the full commit pipeline
// (spec §4.G).
func (e *Engine) Commit(ctx context.Context, sess *session.Session) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return e.pipeline.Commit(ctx, sess)
}

// Get evaluates xpath against a datastore's persisted state, returning the
// data-tree values of every path it matches. It builds a read-only mod-info
// from the XPath's static atomization, loads each REQ module's data, and
// evaluates the XPath over each one in turn.
func (e *Engine) Get(ctx context.Context, ds modindex.Datastore, xpath string) (map[string]editdiff.Value, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	info, err := e.builder.FromXPath(ds, xpath, e.lib)
	if err != nil {
		return nil, err
	}

	result := make(map[string]editdiff.Value)
	for _, entry := range info.Entries() {
		if !entry.State.Has(modinfo.StateREQ) {
			continue
		}
		data, present, err := e.store.Load(entry.Module.Name, ds)
		if err != nil {
			return nil, err
		}
		if !present {
			continue
		}
		tree, err := e.lib.Parse(entry.Module.Name, data)
		if err != nil {
			return nil, err
		}
		paths, err := e.lib.EvaluateXPath(tree, xpath)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			if v, ok := tree.Get(p); ok {
				result[p] = v
			}
		}
	}
	return result, nil
}

// RPC dispatches an RPC/action to moduleName's subscribers in priority
// order, passing input as the session's RPC input tree and returning
// whichever subscriber's mutable output tree resulted from the first one
// to answer with StatusOK (spec §6 "for RPC callbacks, additionally an
// input tree and a mutable output tree"; original_source's
// test_rpc_action.c exercises a single subscriber answering one RPC).
func (e *Engine) RPC(ctx context.Context, moduleName, xpath, requestID string, input *editdiff.Tree) (*editdiff.Tree, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	m, err := e.Module(moduleName)
	if err != nil {
		return nil, err
	}
	subs, err := e.subs.Ordered(m)
	if err != nil {
		return nil, err
	}

	sess := session.New(requestID, modindex.Running)
	sess.BeginRPC(input)
	defer sess.EndRPC()

	for _, sub := range subs {
		status, err := sub.Callback(ctx, sess, xpath, subscription.EventTagRPC, requestID, sub.Private)
		if err != nil {
			return nil, err
		}
		if status == subscription.StatusOK {
			return sess.RPCOutput(), nil
		}
	}
	return nil, shimerrors.NewCallbackFailedError(moduleName, nil)
}

// Close gracefully shuts down the engine, releasing the module index and
// detaching the shared segment. It is safe to call more than once; only
// the first call performs work.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrEngineClosed
	}

	var firstErr error
	if err := e.idx.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.seg.Detach(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
