package lockcoord

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sr-shim/shimrepo/internal/modindex"
	"github.com/sr-shim/shimrepo/internal/modinfo"
	"github.com/sr-shim/shimrepo/internal/shm"
	"github.com/sr-shim/shimrepo/pkg/options"
)

func newTestIndex(t *testing.T) *modindex.Index {
	t.Helper()
	dir := t.TempDir()

	seg, err := shm.Attach(shm.Config{Path: filepath.Join(dir, "seg.shm"), InitialSize: 64 * 1024})
	if err != nil {
		t.Fatalf("shm.Attach: %v", err)
	}
	t.Cleanup(func() { seg.Detach() })

	idx, err := modindex.New(context.Background(), &modindex.Config{
		Segment: seg,
		LockDir: filepath.Join(dir, "locks"),
	})
	if err != nil {
		t.Fatalf("modindex.New: %v", err)
	}
	return idx
}

func testTuning() options.Tuning {
	return options.Tuning{
		ModuleLockTimeout: time.Second,
		CommitStepCount:   3,
		CommitStepSleep:   5 * time.Millisecond,
	}
}

// TestLockAllWriteThenUnlock exercises the plain (non-applying) write-lock
// acquire/release path.
func TestLockAllWriteThenUnlock(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	m, err := idx.Install(ctx, "ex", nil)
	if err != nil {
		t.Fatalf("install: %v", err)
	}

	info := modinfo.NewSingleEntryInfo(modindex.Running, m, modinfo.StateREQ)
	grant, err := LockAll(ctx, info, Write, false, "tx1", testTuning())
	if err != nil {
		t.Fatalf("LockAll: %v", err)
	}
	cb := m.ControlBlock(modindex.Running)
	if cb.ApplyingChanges() {
		t.Fatalf("non-applying lock must not set applying_changes")
	}
	grant.UnlockAll()
}

// TestApplyingChangesHandoff verifies spec §4.D's hand-off: a writer that
// sets applying_changes downgrades to a read lock, and a concurrent
// applying acquisition on the same module backs off until cleared.
func TestApplyingChangesHandoff(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	m, err := idx.Install(ctx, "ex", nil)
	if err != nil {
		t.Fatalf("install: %v", err)
	}

	info := modinfo.NewSingleEntryInfo(modindex.Running, m, modinfo.StateREQ)
	tuning := testTuning()

	grant, err := LockAll(ctx, info, Write, true, "tx1", tuning)
	if err != nil {
		t.Fatalf("LockAll tx1: %v", err)
	}
	cb := m.ControlBlock(modindex.Running)
	if !cb.ApplyingChanges() {
		t.Fatalf("expected applying_changes set after downgrade")
	}
	if cb.Owner() != "tx1" {
		t.Fatalf("expected owner tx1, got %q", cb.Owner())
	}

	// A second applying transaction must back off commit_step_count times
	// and then fail with timed_out, since tx1 never releases.
	info2 := modinfo.NewSingleEntryInfo(modindex.Running, m, modinfo.StateREQ)
	shortTuning := options.Tuning{ModuleLockTimeout: 200 * time.Millisecond, CommitStepCount: 2, CommitStepSleep: 5 * time.Millisecond}
	_, err = LockAll(ctx, info2, Write, true, "tx2", shortTuning)
	if err == nil {
		t.Fatalf("expected tx2 to fail while tx1 holds applying_changes")
	}

	grant.UnlockAll()
	if cb.ApplyingChanges() {
		t.Fatalf("expected applying_changes cleared after UnlockAll")
	}
}

// TestRelockUpgrade verifies Relock swaps a held read lock for a write lock
// on REQ|LOCK entries.
func TestRelockUpgrade(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)
	m, err := idx.Install(ctx, "ex", nil)
	if err != nil {
		t.Fatalf("install: %v", err)
	}

	info := modinfo.NewSingleEntryInfo(modindex.Running, m, modinfo.StateREQ)
	grant, err := LockAll(ctx, info, Read, false, "tx1", testTuning())
	if err != nil {
		t.Fatalf("LockAll read: %v", err)
	}
	if err := grant.Relock(ctx, true); err != nil {
		t.Fatalf("Relock upgrade: %v", err)
	}
	grant.UnlockAll()
}
