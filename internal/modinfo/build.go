package modinfo

import (
	"github.com/sr-shim/shimrepo/internal/editdiff"
	"github.com/sr-shim/shimrepo/internal/modindex"
	"github.com/sr-shim/shimrepo/internal/schemalib"
	shimerrors "github.com/sr-shim/shimrepo/pkg/errors"
)

// Builder assembles mod-infos against a module index, per spec §4.C.
type Builder struct {
	index *modindex.Index
}

// NewBuilder constructs a Builder over idx.
func NewBuilder(idx *modindex.Index) *Builder {
	return &Builder{index: idx}
}

// FromEdit builds a mod-info from a pending edit tree (spec §4.C input
// (i)): the primary module set is the distinct set of modules named by
// the edit fragments' Module field.
func (b *Builder) FromEdit(ds modindex.Datastore, edits []editdiff.Edit) (*Info, error) {
	primary := make(map[string]struct{})
	for _, e := range edits {
		primary[e.Module] = struct{}{}
	}
	names := make([]string, 0, len(primary))
	for name := range primary {
		names = append(names, name)
	}
	return b.build(ds, names)
}

// FromXPath builds a mod-info from an XPath plus the schema library's
// static atomization of it (spec §4.C input (ii)): the primary module set
// is the XPath's own namespace module plus every module atomized from it.
func (b *Builder) FromXPath(ds modindex.Datastore, xpath string, lib schemalib.Library) (*Info, error) {
	names, err := lib.AtomizeXPath(xpath)
	if err != nil {
		return nil, err
	}
	return b.build(ds, names)
}

// build runs the 6-step algorithm of spec §4.C over the given primary
// module names.
func (b *Builder) build(ds modindex.Datastore, primaryNames []string) (*Info, error) {
	info := newInfo(ds)

	// Step 1/2: collect primary modules, add with state REQ.
	for _, name := range primaryNames {
		m, ok := b.index.Lookup(name)
		if !ok {
			return nil, shimerrors.NewLockError(nil, shimerrors.ErrorCodeNotFound, "primary module not installed").WithModule(name)
		}
		if _, rose := info.add(m, StateREQ); rose {
			// Step 3: direct dependency closure for this REQ module.
			b.expandDeps(info, m)
		}
	}

	// Step 4: inverse closure, only for REQ modules.
	for _, e := range snapshotREQ(info) {
		b.expandInvDeps(info, e.Module)
	}

	// Step 6: canonical lock order.
	info.sort()
	return info, nil
}

// expandDeps walks m's non-instance-identifier dependency edges and adds
// each target with state DEP, recursing when a target's state rises above
// DEP (spec §4.C step 3, step 5).
func (b *Builder) expandDeps(info *Info, m *modindex.ModuleRecord) {
	for _, e := range m.Deps() {
		if e.Tag == modindex.DepInstanceIdentifier {
			// Deferred: effective targets depend on the data tree at
			// validation time (resolved by internal/validator, step 2).
			continue
		}
		target := b.index.ByOffset(e.Target)
		if target == nil {
			continue
		}
		if _, rose := info.add(target, StateDEP); rose {
			b.expandDeps(info, target)
		}
	}
}

// expandInvDeps adds every module with a dependency edge pointing at m
// with state INV_DEP (spec §4.C step 4).
func (b *Builder) expandInvDeps(info *Info, m *modindex.ModuleRecord) {
	for _, offset := range m.InvDeps() {
		source := b.index.ByOffset(offset)
		if source == nil {
			continue
		}
		info.add(source, StateINVDEP)
	}
}

func snapshotREQ(info *Info) []*Entry {
	out := make([]*Entry, 0, len(info.entries))
	for _, e := range info.entries {
		if e.State.Has(StateREQ) {
			out = append(out, e)
		}
	}
	return out
}
