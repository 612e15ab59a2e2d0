package validator

import (
	"context"
	"testing"

	"github.com/sr-shim/shimrepo/internal/editdiff"
	"github.com/sr-shim/shimrepo/internal/modindex"
	"github.com/sr-shim/shimrepo/internal/modinfo"
	"github.com/sr-shim/shimrepo/internal/schemalib/memlib"
)

// TestValidateInstanceIdentifierDiscoversDependency exercises spec §8
// scenario 3: an instance-identifier edge on a REQ module names, at
// validation time, a module not otherwise in the mod-info; the validator
// must discover it, attach it as DEP, and fail validation when the named
// path does not resolve.
func TestValidateInstanceIdentifierDiscoversDependency(t *testing.T) {
	ctx := context.Background()
	idx, store := newHarness(t)

	target, err := idx.Install(ctx, "target", nil)
	if err != nil {
		t.Fatalf("install target: %v", err)
	}
	_, err = idx.Install(ctx, "ex", []modindex.DependencyEdge{
		{Tag: modindex.DepInstanceIdentifier, XPath: "/ex:ref"},
	})
	if err != nil {
		t.Fatalf("install ex: %v", err)
	}

	lib := memlib.New()
	lib.InstIDs = append(lib.InstIDs, memlib.InstanceIdentifierRule{
		SourceModule: "ex", SourcePath: "/ex:ref", TargetModule: "target",
	})

	v, err := New(&Config{Library: lib, Storage: store, Index: idx})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	exEntry := modinfo.NewSingleEntryInfo(modindex.Running, mustLookup(t, idx, "ex"), modinfo.StateREQ)
	exEntry.Entries()[0].CurrentData = editdiff.NewTree()
	exEntry.Entries()[0].CurrentData.Values["/ex:ref"] = editdiff.Value{Data: "/target:leaf"}

	if err := v.Validate(ctx, exEntry, false); err == nil {
		t.Fatalf("expected validation_failed for unresolved instance-identifier target")
	}

	if got := exEntry.Lookup(target.Offset); got == nil {
		t.Fatalf("expected target module discovered and attached as DEP")
	} else if !got.State.Has(modinfo.StateDEP) {
		t.Fatalf("expected discovered module tagged DEP, got state %v", got.State)
	}

	// Now satisfy the instance-identifier target and expect success.
	targetEntry := exEntry.Lookup(target.Offset)
	targetEntry.CurrentData.Values["/target:leaf"] = editdiff.Value{Data: "present"}

	if err := v.Validate(ctx, exEntry, false); err != nil {
		t.Fatalf("expected validation to pass, got %v", err)
	}
}
