package validator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sr-shim/shimrepo/internal/editdiff"
	"github.com/sr-shim/shimrepo/internal/modindex"
	"github.com/sr-shim/shimrepo/internal/modinfo"
	"github.com/sr-shim/shimrepo/internal/schemalib/memlib"
	"github.com/sr-shim/shimrepo/internal/shm"
	"github.com/sr-shim/shimrepo/internal/storage"
	"github.com/sr-shim/shimrepo/pkg/errors"
	"github.com/sr-shim/shimrepo/pkg/logger"
	"github.com/sr-shim/shimrepo/pkg/options"
)

func newHarness(t *testing.T) (*modindex.Index, *storage.Store) {
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

	store, err := storage.New(context.Background(), &storage.Config{
		Options: &options.Options{RepoRoot: dir, DataDirectory: "data"},
		Logger:  logger.NewDevelopment("validator-test"),
	})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	return idx, store
}

// TestValidateLeafrefAcrossModules exercises spec §8 scenario 2:
// cross-module leafref validation fails when the target does not resolve.
func TestValidateLeafrefAcrossModules(t *testing.T) {
	ctx := context.Background()
	idx, store := newHarness(t)

	base, err := idx.Install(ctx, "base", nil)
	if err != nil {
		t.Fatalf("install base: %v", err)
	}
	_, err = idx.Install(ctx, "ex", []modindex.DependencyEdge{{Tag: modindex.DepDirect, Target: base.Offset}})
	if err != nil {
		t.Fatalf("install ex: %v", err)
	}

	lib := memlib.New()
	lib.Leafrefs = append(lib.Leafrefs, memlib.LeafrefRule{
		SourceModule: "ex", SourcePath: "/ex:ref",
		TargetModule: "base", TargetPath: "/base:target",
	})

	v, err := New(&Config{Library: lib, Storage: store, Index: idx})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	info := modinfo.NewSingleEntryInfo(modindex.Running, base, modinfo.StateDEP)
	exEntry := info.AddDiscovered(mustLookup(t, idx, "ex"), modinfo.StateREQ)
	exEntry.CurrentData = editdiff.NewTree()
	exEntry.CurrentData.Values["/ex:ref"] = editdiff.Value{Data: "present"}

	if err := v.Validate(ctx, info, false); err == nil {
		t.Fatalf("expected validation_failed for unresolved leafref")
	} else if ve, ok := errors.AsSchemaValidationError(err); !ok {
		t.Fatalf("expected SchemaValidationError, got %T: %v", err, err)
	} else if len(ve.Issues()) != 1 {
		t.Fatalf("expected 1 issue, got %+v", ve.Issues())
	}

	// Now satisfy the leafref target and expect success.
	baseEntry := info.Lookup(base.Offset)
	baseEntry.CurrentData = editdiff.NewTree()
	baseEntry.CurrentData.Values["/base:target"] = editdiff.Value{Data: "present"}

	if err := v.Validate(ctx, info, false); err != nil {
		t.Fatalf("expected validation to pass, got %v", err)
	}
}

func mustLookup(t *testing.T, idx *modindex.Index, name string) *modindex.ModuleRecord {
	t.Helper()
	m, ok := idx.Lookup(name)
	if !ok {
		t.Fatalf("module %s not installed", name)
	}
	return m
}
