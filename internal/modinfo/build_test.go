package modinfo

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sr-shim/shimrepo/internal/editdiff"
	"github.com/sr-shim/shimrepo/internal/modindex"
	"github.com/sr-shim/shimrepo/internal/shm"
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

// TestBuildDirectDependencyClosure verifies spec §4.C scenario 1: a primary
// module's direct schema dependency is pulled in as DEP.
func TestBuildDirectDependencyClosure(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	base, err := idx.Install(ctx, "base", nil)
	if err != nil {
		t.Fatalf("install base: %v", err)
	}
	_, err = idx.Install(ctx, "ex", []modindex.DependencyEdge{{Tag: modindex.DepDirect, Target: base.Offset}})
	if err != nil {
		t.Fatalf("install ex: %v", err)
	}

	b := NewBuilder(idx)
	info, err := b.FromEdit(modindex.Running, []editdiff.Edit{{Module: "ex", Op: editdiff.EditSet, Path: "/ex:a", Value: "1"}})
	if err != nil {
		t.Fatalf("FromEdit: %v", err)
	}

	entries := info.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries (ex, base), got %d: %+v", len(entries), entries)
	}
	// Canonical lock order: ascending by offset. base was installed first
	// so it has the smaller offset.
	if entries[0].Module.Name != "base" || !entries[0].State.Has(StateDEP) {
		t.Fatalf("expected base classified DEP first, got %+v", entries[0])
	}
	if entries[1].Module.Name != "ex" || !entries[1].State.Has(StateREQ) {
		t.Fatalf("expected ex classified REQ second, got %+v", entries[1])
	}
}

// TestBuildInverseDependencyClosure verifies spec §4.C scenario 2: a module
// depending on a REQ module is pulled in as INV_DEP.
func TestBuildInverseDependencyClosure(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	base, err := idx.Install(ctx, "base", nil)
	if err != nil {
		t.Fatalf("install base: %v", err)
	}
	_, err = idx.Install(ctx, "dependent", []modindex.DependencyEdge{{Tag: modindex.DepDirect, Target: base.Offset}})
	if err != nil {
		t.Fatalf("install dependent: %v", err)
	}

	b := NewBuilder(idx)
	info, err := b.FromEdit(modindex.Running, []editdiff.Edit{{Module: "base", Op: editdiff.EditSet, Path: "/base:a", Value: "1"}})
	if err != nil {
		t.Fatalf("FromEdit: %v", err)
	}

	dependentEntry := info.Lookup(idx.Modules()[1].Offset)
	if dependentEntry == nil || !dependentEntry.State.Has(StateINVDEP) {
		t.Fatalf("expected dependent module classified INV_DEP, got %+v", dependentEntry)
	}
}

func TestBuildUnknownModuleErrors(t *testing.T) {
	idx := newTestIndex(t)
	b := NewBuilder(idx)
	_, err := b.FromEdit(modindex.Running, []editdiff.Edit{{Module: "missing", Op: editdiff.EditSet, Path: "/x", Value: 1}})
	if err == nil {
		t.Fatalf("expected error for unknown module")
	}
}
