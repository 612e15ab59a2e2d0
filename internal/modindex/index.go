// Package modindex implements the module index of spec §4.B: the catalog
// of installed schema modules, their dependency edges, and their
// per-datastore lock/subscription control state, held in the process-
// shared segment (internal/shm) and mirrored into a per-process hydrated
// cache for fast lookup.
//
// The catalog is a name-keyed map behind a RWMutex, with an atomic Close
// and Config-struct construction.
package modindex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sr-shim/shimrepo/internal/shm"
	shimerrors "github.com/sr-shim/shimrepo/pkg/errors"
	"go.uber.org/zap"
)

// Config holds the dependencies Index needs to construct itself.
type Config struct {
	Segment *shm.Segment
	LockDir string // directory holding per-module-datastore flock files
	Logger  *zap.SugaredLogger
}

// Index is the process-shared catalog of installed modules. Lookup by name
// is linear (spec §4.B: "the installed module count is small, O(tens to
// low hundreds)").
type Index struct {
	seg     *shm.Segment
	lockDir string
	log     *zap.SugaredLogger

	mu       sync.RWMutex
	byName   map[string]*ModuleRecord
	byOffset []*ModuleRecord // kept sorted ascending by Offset: canonical lock order

	closed atomic.Bool
}

// New constructs an Index over an already-attached segment, then
// reconciles its in-process cache by walking the segment's module list
// starting at its ModuleListHead (first-attach bootstrap: spec §3
// lifecycle "Module record: created by install... Segment: created at
// first-connect of a host").
func New(ctx context.Context, cfg *Config) (*Index, error) {
	if cfg == nil || cfg.Segment == nil {
		return nil, shimerrors.NewValidationError(nil, shimerrors.ErrorCodeInvalidInput, "segment is required").
			WithField("Segment").WithRule("required")
	}
	if cfg.LockDir == "" {
		return nil, shimerrors.NewValidationError(nil, shimerrors.ErrorCodeInvalidInput, "lock directory is required").
			WithField("LockDir").WithRule("required")
	}
	if err := os.MkdirAll(cfg.LockDir, 0755); err != nil {
		return nil, shimerrors.ClassifyDirectoryCreationError(err, cfg.LockDir)
	}

	idx := &Index{
		seg:     cfg.Segment,
		lockDir: cfg.LockDir,
		log:     cfg.Logger,
		byName:  make(map[string]*ModuleRecord, 64),
	}

	if err := idx.reconcile(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

// reconcile walks the segment's module-record linked list and rebuilds the
// in-process cache, then recomputes inverse edges by scanning every
// module's direct/instance-identifier edges (the linear-scan strategy
// spec §9 attributes to the source), used here at bootstrap time only
// (installation/removal maintain the cache incrementally thereafter).
func (idx *Index) reconcile(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var records []*ModuleRecord
	next := idx.seg.ModuleListHead()
	for next != 0 {
		view, err := idx.seg.OffsetToPtr(next, recSize)
		if err != nil {
			return err
		}
		nameOff, depsOff, depCount, nextOff := decodeRecord(view)

		name, err := idx.seg.GetString(nameOff)
		if err != nil {
			return err
		}
		deps, err := readDeps(idx.seg, depsOff, depCount)
		if err != nil {
			return err
		}

		m := &ModuleRecord{Offset: next, Name: name, deps: deps}
		for ds := Startup; ds <= Operational; ds++ {
			m.ctrl[ds] = newControlBlock(idx.lockDir, name, ds)
		}

		records = append(records, m)
		idx.byName[name] = m
		next = nextOff
	}

	for _, m := range records {
		for _, e := range m.deps {
			if e.Tag == DepInstanceIdentifier {
				continue
			}
			if target := idx.findByOffsetLocked(records, e.Target); target != nil {
				target.addInvDep(m.Offset)
			}
		}
	}

	idx.byOffset = records
	idx.sortByOffsetLocked()
	return nil
}

func (idx *Index) findByOffsetLocked(records []*ModuleRecord, offset uint64) *ModuleRecord {
	for _, m := range records {
		if m.Offset == offset {
			return m
		}
	}
	return nil
}

func (idx *Index) sortByOffsetLocked() {
	sort.Slice(idx.byOffset, func(i, j int) bool { return idx.byOffset[i].Offset < idx.byOffset[j].Offset })
}

// Install appends a new module record plus its name and dependency array,
// rejecting duplicates. Direct and instance-identifier edges are supplied
// by the caller (the schema library's dependency analysis, an external
// collaborator per spec §6); inverse edges are derived here into process
// memory, under the index's own mutex together with the forward edges;
// the segment write lock is held only for each individual allocation and
// write.
func (idx *Index) Install(ctx context.Context, name string, deps []DependencyEdge) (*ModuleRecord, error) {
	if name == "" {
		return nil, shimerrors.NewValidationError(nil, shimerrors.ErrorCodeInvalidInput, "module name is required").
			WithField("name").WithRule("required")
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.byName[name]; exists {
		return nil, shimerrors.NewLockError(nil, shimerrors.ErrorCodeInUse, "module already installed").WithModule(name)
	}

	nameOff, err := idx.seg.PutString(ctx, name)
	if err != nil {
		return nil, err
	}
	depsOff, err := writeDeps(ctx, idx.seg, deps)
	if err != nil {
		return nil, err
	}

	recOff, err := idx.seg.Alloc(ctx, recSize)
	if err != nil {
		return nil, err
	}
	if err := idx.seg.PutBytes(recOff, encodeRecord(nameOff, depsOff, uint32(len(deps)), 0)); err != nil {
		return nil, err
	}

	// Link this record onto the tail of the module list so a later
	// reconcile() on a fresh attach discovers it.
	if tail := idx.lastRecordLocked(); tail != nil {
		if err := idx.relinkNextLocked(tail, recOff); err != nil {
			return nil, err
		}
	} else {
		idx.seg.SetModuleListHead(recOff)
	}

	m := &ModuleRecord{Offset: recOff, Name: name, deps: deps}
	for ds := Startup; ds <= Operational; ds++ {
		m.ctrl[ds] = newControlBlock(idx.lockDir, name, ds)
	}

	for _, e := range deps {
		if e.Tag == DepInstanceIdentifier {
			continue
		}
		if target := idx.findByOffsetLocked(idx.byOffset, e.Target); target != nil {
			target.addInvDep(recOff)
		}
	}

	idx.byName[name] = m
	idx.byOffset = append(idx.byOffset, m)
	idx.sortByOffsetLocked()

	if idx.log != nil {
		idx.log.Infow("module installed", "module", name, "offset", recOff, "deps", len(deps))
	}
	return m, nil
}

func (idx *Index) lastRecordLocked() *ModuleRecord {
	if len(idx.byOffset) == 0 {
		return nil
	}
	// byOffset is sorted by offset, not insertion order, so walk to find the
	// record whose on-segment Next is still 0.
	for _, m := range idx.byOffset {
		view, err := idx.seg.OffsetToPtr(m.Offset, recSize)
		if err != nil {
			continue
		}
		_, _, _, next := decodeRecord(view)
		if next == 0 {
			return m
		}
	}
	return nil
}

func (idx *Index) relinkNextLocked(rec *ModuleRecord, next uint64) error {
	view, err := idx.seg.OffsetToPtr(rec.Offset, recSize)
	if err != nil {
		return err
	}
	nameOff, depsOff, depCount, _ := decodeRecord(view)
	return idx.seg.PutBytes(rec.Offset, encodeRecord(nameOff, depsOff, depCount, next))
}

// Remove deletes a module record. It fails with in_use if any other
// module's dependency edges still point at it (spec §4.B: "referenced
// dependency edges in other modules must be absent or the operation fails
// with in_use").
func (idx *Index) Remove(ctx context.Context, name string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	m, ok := idx.byName[name]
	if !ok {
		return shimerrors.NewLockError(nil, shimerrors.ErrorCodeNotFound, "module not found").WithModule(name)
	}
	if len(m.InvDeps()) > 0 {
		return shimerrors.NewModuleInUseError(name)
	}

	for _, e := range m.Deps() {
		if e.Tag == DepInstanceIdentifier {
			continue
		}
		if target := idx.findByOffsetLocked(idx.byOffset, e.Target); target != nil {
			target.removeInvDep(m.Offset)
		}
	}

	delete(idx.byName, name)
	for i, rec := range idx.byOffset {
		if rec.Offset == m.Offset {
			idx.byOffset = append(idx.byOffset[:i], idx.byOffset[i+1:]...)
			break
		}
	}

	if idx.log != nil {
		idx.log.Infow("module removed", "module", name)
	}
	return nil
}

// Lookup returns the module record for name, or false if none is installed.
func (idx *Index) Lookup(name string) (*ModuleRecord, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	m, ok := idx.byName[name]
	return m, ok
}

// ByOffset returns the module record at a known segment offset, or nil.
func (idx *Index) ByOffset(offset uint64) *ModuleRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.findByOffsetLocked(idx.byOffset, offset)
}

// Modules returns a snapshot of every installed module, sorted ascending
// by record offset (the canonical lock order of invariant 3).
func (idx *Index) Modules() []*ModuleRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]*ModuleRecord, len(idx.byOffset))
	copy(out, idx.byOffset)
	return out
}

// Close releases the index's in-process state. The underlying segment is
// owned by the caller (internal/engine) and is not detached here.
func (idx *Index) Close() error {
	if !idx.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("modindex: index already closed")
	}
	idx.mu.Lock()
	idx.byName = nil
	idx.byOffset = nil
	idx.mu.Unlock()
	return nil
}

// LockDirFor returns the conventional lock-file directory for a repo root,
// used by internal/engine to wire Config.LockDir.
func LockDirFor(repoRoot string) string {
	return filepath.Join(repoRoot, "locks")
}
