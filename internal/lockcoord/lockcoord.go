// Package lockcoord implements the lock coordinator of spec §4.D: acquiring
// every module in a mod-info's canonical order with a bounded absolute
// deadline, the applying_changes commit hand-off protocol, and all-or-
// nothing rollback on any acquisition failure.
package lockcoord

import (
	"context"
	"time"

	"github.com/sr-shim/shimrepo/internal/modinfo"
	shimerrors "github.com/sr-shim/shimrepo/pkg/errors"
	"github.com/sr-shim/shimrepo/pkg/metrics"
	"github.com/sr-shim/shimrepo/pkg/options"
)

// Mode is the lock mode requested for a lock_all call.
type Mode int

const (
	Read Mode = iota
	Write
)

// held tracks what a Grant actually acquired for one mod-info entry, so
// UnlockAll and Relock can release/replace exactly what this transaction
// holds without re-deriving it.
type held struct {
	entry       *modinfo.Entry
	write       bool // current mode actually held
	setApplying bool // this transaction is the one that set applying_changes
}

// Grant is the result of a successful LockAll: the set of locks this
// transaction holds across a mod-info, in canonical (acquisition) order.
type Grant struct {
	info     *modinfo.Info
	txID     string
	tuning   options.Tuning
	applying bool
	held     []*held
}

// LockAll acquires every mod-info entry's control block in canonical order
// (spec §4.D). mode selects read or write for REQ modules; DEP and INV_DEP
// modules are always read-locked regardless of mode. applying activates the
// commit hand-off protocol: retrying out from under an in-flight commit on
// the same module, then publishing this transaction's own in-flight state
// via applying_changes before downgrading its write lock to a read lock.
//
// Any acquisition failure releases every lock already obtained in this call
// before returning the error (spec §4.D "Failure semantics").
func LockAll(ctx context.Context, info *modinfo.Info, mode Mode, applying bool, txID string, tuning options.Tuning) (*Grant, error) {
	ctx, cancel := context.WithTimeout(ctx, tuning.ModuleLockTimeout)
	defer cancel()

	g := &Grant{info: info, txID: txID, tuning: tuning, applying: applying}

	for _, e := range info.Entries() {
		write := (mode == Write || applying) && e.State.Has(modinfo.StateREQ)
		cb := e.Module.ControlBlock(info.Datastore)

		if err := acquireWithHandoff(ctx, cb, e.Module.Name, info.Datastore.String(), write, applying, tuning); err != nil {
			g.unlockAcquired()
			return nil, withModule(err, e.Module.Name)
		}

		h := &held{entry: e, write: write}
		if applying && write {
			cb.SetApplyingChanges(txID)
			cb.Unlock(true)
			if err := cb.LockTimed(ctx, false); err != nil {
				cb.ClearApplyingChanges(txID)
				g.unlockAcquired()
				return nil, withModule(err, e.Module.Name)
			}
			h.write = false
			h.setApplying = true
		}

		e.State |= modinfo.StateLOCK
		g.held = append(g.held, h)
	}
	return g, nil
}

// controlBlock is the subset of modindex's per-module, per-datastore
// control block that the lock coordinator drives. The concrete type
// (*modindex.datastoreControlBlock, returned by ModuleRecord.ControlBlock)
// is unexported, but it satisfies this interface structurally.
type controlBlock interface {
	LockTimed(ctx context.Context, write bool) error
	Unlock(write bool)
	ApplyingChanges() bool
	SetApplyingChanges(txID string)
	ClearApplyingChanges(txID string) bool
}

// acquireWithHandoff acquires cb in the requested mode, retrying out from
// under an in-flight commit on the same module when applying is set (spec
// §4.D: "If applying and the lock is obtained but the module's
// applying_changes flag is set, release and sleep for a fixed step; retry
// up to commit_step_count times. If exhausted → fails with timed_out.").
func acquireWithHandoff(ctx context.Context, cb controlBlock, module, datastore string, write, applying bool, tuning options.Tuning) error {
	attempts := tuning.CommitStepCount
	if attempts < 1 {
		attempts = 1
	}

	mode := lockcoordMode(write)
	timer := metrics.NewTimer()

	for attempt := 0; attempt < attempts; attempt++ {
		if err := cb.LockTimed(ctx, write); err != nil {
			timer.ObserveDurationVec(metrics.LockWaitDuration, mode, "timed_out")
			metrics.LockTimeoutsTotal.WithLabelValues(module).Inc()
			return err
		}
		if !applying || !cb.ApplyingChanges() {
			timer.ObserveDurationVec(metrics.LockWaitDuration, mode, "acquired")
			return nil
		}
		cb.Unlock(write)

		if attempt == attempts-1 {
			timer.ObserveDurationVec(metrics.LockWaitDuration, mode, "timed_out")
			metrics.LockTimeoutsTotal.WithLabelValues(module).Inc()
			return shimerrors.NewLockTimeoutError(module, datastore, mode, attempt+1)
		}
		select {
		case <-ctx.Done():
			timer.ObserveDurationVec(metrics.LockWaitDuration, mode, "timed_out")
			metrics.LockTimeoutsTotal.WithLabelValues(module).Inc()
			return shimerrors.NewLockTimeoutError(module, datastore, mode, attempt+1)
		case <-time.After(tuning.CommitStepSleep):
		}
	}
	timer.ObserveDurationVec(metrics.LockWaitDuration, mode, "timed_out")
	metrics.LockTimeoutsTotal.WithLabelValues(module).Inc()
	return shimerrors.NewLockTimeoutError(module, datastore, mode, attempts)
}

// Relock iterates every REQ|LOCK entry and swaps its held lock's mode
// (spec §4.D "relock(upgrade: bool)"), while applying_changes remains set
// so no other commit can race in. upgrade=true swaps read→write,
// upgrade=false swaps write→read.
func (g *Grant) Relock(ctx context.Context, upgrade bool) error {
	ctx, cancel := context.WithTimeout(ctx, g.tuning.ModuleLockTimeout)
	defer cancel()

	for i, h := range g.held {
		if !h.entry.State.Has(modinfo.StateREQ | modinfo.StateLOCK) {
			continue
		}
		if h.write == upgrade {
			continue
		}
		cb := h.entry.Module.ControlBlock(g.info.Datastore)
		cb.Unlock(h.write)
		if err := cb.LockTimed(ctx, upgrade); err != nil {
			// The old lock is already released: drop h so UnlockAll does not
			// release it a second time.
			if h.setApplying {
				cb.ClearApplyingChanges(g.txID)
			}
			h.entry.State &^= modinfo.StateLOCK
			g.held = append(g.held[:i], g.held[i+1:]...)
			return withModule(err, h.entry.Module.Name)
		}
		h.write = upgrade
	}
	return nil
}

// UnlockAll releases every lock this Grant holds, in reverse canonical
// order, clearing applying_changes on every module this transaction set it
// on (spec §4.D "Unlock clears applying_changes if it was set by this
// transaction."). It is idempotent: calling it twice, or on a partially
// unwound Grant, releases only what remains held.
func (g *Grant) UnlockAll() {
	g.unlockAcquired()
}

func (g *Grant) unlockAcquired() {
	for i := len(g.held) - 1; i >= 0; i-- {
		h := g.held[i]
		cb := h.entry.Module.ControlBlock(g.info.Datastore)
		if h.setApplying {
			cb.ClearApplyingChanges(g.txID)
		}
		cb.Unlock(h.write)
		h.entry.State &^= modinfo.StateLOCK
	}
	g.held = nil
}

func lockcoordMode(write bool) string {
	if write {
		return "write"
	}
	return "read"
}

func withModule(err error, module string) error {
	if le, ok := shimerrors.AsLockError(err); ok {
		return le.WithModule(module)
	}
	return err
}
