package modindex

import (
	"context"
	"math"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	shimerrors "github.com/sr-shim/shimrepo/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// lockPollInterval is the poll cadence used while waiting on the
// cross-process flock.
const lockPollInterval = 25 * time.Millisecond

// allWeight is the full weight of a control block's in-process semaphore;
// a writer acquires all of it, a reader acquires one unit, so any number of
// readers can hold the semaphore concurrently but a writer excludes them
// all (the standard golang.org/x/sync/semaphore reader/writer idiom).
const allWeight = math.MaxInt32

// datastoreControlBlock is the per-module, per-datastore control block of
// spec §3: "a reader/writer lock with timed acquisition and a boolean
// applying_changes flag used to serialize commits with concurrent readers
// on the same module."
//
// Go cannot place a condition variable or rwlock inside the raw bytes of an
// mmap'd segment without cgo, so the lock primitive itself lives here, in
// process memory, rather than inside internal/shm's mapped region. The
// in-process layer uses golang.org/x/sync/semaphore.Weighted instead of
// sync.RWMutex specifically because acquisition must respect an absolute
// deadline (spec §4.D "bounded absolute deadline") and sync.RWMutex has no
// cancelable Lock; semaphore.Weighted.Acquire does. Cross-process mutual
// exclusion is provided by a dedicated github.com/gofrs/flock file per
// module+datastore. This pairing of a cancelable in-process gate with a
// cross-process file lock is recorded as an explicit implementation
// decision in DESIGN.md.
type datastoreControlBlock struct {
	module    string
	datastore Datastore

	sem *semaphore.Weighted
	flk *flock.Flock

	applyingChanges atomic.Bool
	owner           atomic.Value // string: transaction ID that set applyingChanges
}

func newControlBlock(lockDir, module string, ds Datastore) *datastoreControlBlock {
	path := filepath.Join(lockDir, module+"."+ds.String()+".lock")
	cb := &datastoreControlBlock{
		module:    module,
		datastore: ds,
		sem:       semaphore.NewWeighted(allWeight),
		flk:       flock.New(path),
	}
	cb.owner.Store("")
	return cb
}

// ApplyingChanges reports whether a commit is currently mid-flight on this
// module/datastore.
func (cb *datastoreControlBlock) ApplyingChanges() bool {
	return cb.applyingChanges.Load()
}

// Owner returns the transaction ID that set applyingChanges, or "" if unset.
func (cb *datastoreControlBlock) Owner() string {
	return cb.owner.Load().(string)
}

// SetApplyingChanges implements the write-side of spec §5's owner-bound
// rule. The caller must already hold this control block's write lock.
func (cb *datastoreControlBlock) SetApplyingChanges(txID string) {
	cb.applyingChanges.Store(true)
	cb.owner.Store(txID)
}

// ClearApplyingChanges clears the flag only if txID is the transaction that
// set it ("only the transaction that set it may clear it"), returning
// whether it actually cleared anything.
func (cb *datastoreControlBlock) ClearApplyingChanges(txID string) bool {
	if cb.owner.Load().(string) != txID {
		return false
	}
	cb.applyingChanges.Store(false)
	cb.owner.Store("")
	return true
}

func weightFor(write bool) int64 {
	if write {
		return allWeight
	}
	return 1
}

// LockTimed acquires the control block's read or write lock before ctx's
// deadline, taking the in-process semaphore first and the cross-process
// flock second, in that fixed order, so the two layers can never deadlock
// against each other. On failure neither layer is left held.
func (cb *datastoreControlBlock) LockTimed(ctx context.Context, write bool) error {
	w := weightFor(write)
	if err := cb.sem.Acquire(ctx, w); err != nil {
		return shimerrors.NewLockTimeoutError(cb.module, cb.datastore.String(), lockMode(write), 0)
	}

	var ok bool
	var err error
	if write {
		ok, err = cb.flk.TryLockContext(ctx, lockPollInterval)
	} else {
		ok, err = cb.flk.TryRLockContext(ctx, lockPollInterval)
	}
	if err != nil || !ok {
		cb.sem.Release(w)
		return shimerrors.NewLockTimeoutError(cb.module, cb.datastore.String(), lockMode(write), 0)
	}
	return nil
}

// Unlock releases both layers in the reverse order they were acquired.
func (cb *datastoreControlBlock) Unlock(write bool) {
	_ = cb.flk.Unlock()
	cb.sem.Release(weightFor(write))
}

func lockMode(write bool) string {
	if write {
		return "write"
	}
	return "read"
}
