// Package modinfo implements the mod-info builder of spec §4.C: assembling
// a per-transaction, process-local working set of modules closed under
// schema dependencies, classified REQ / DEP / INV_DEP, sorted into the
// canonical lock order.
package modinfo

import (
	"sort"

	"github.com/sr-shim/shimrepo/internal/editdiff"
	"github.com/sr-shim/shimrepo/internal/modindex"
)

// State is a bitset over {REQ, INV_DEP, DEP, LOCK, CHANGED}, per spec §3
// "Mod-info (per transaction, process-local)... entry {state:
// bitset(REQ|INV_DEP|DEP|LOCK|CHANGED), ...}".
type State uint8

const (
	StateDEP State = 1 << iota
	StateINVDEP
	StateREQ
	StateLOCK
	StateCHANGED
)

// Has reports whether s carries every bit in mask.
func (s State) Has(mask State) bool { return s&mask == mask }

// Entry is one module's classification and scratch data within a mod-info
// (spec §3: "a map from module-record offset to an entry").
type Entry struct {
	Module *modindex.ModuleRecord
	State  State

	// CurrentData is the module's data tree as loaded for this
	// transaction's datastore (nil until 4.G's compute_diff step loads it).
	CurrentData *editdiff.Tree

	// Diff is the aggregated diff fragment attached to this module by
	// 4.E/4.F, merged as the commit progresses.
	Diff *editdiff.Diff
}

// Info is the per-transaction working set built by Builder, sorted by
// module-record offset to guarantee the canonical lock order (invariant 3).
type Info struct {
	Datastore modindex.Datastore
	entries   []*Entry
	byOffset  map[uint64]*Entry

	// DefaultChange is the dflt_change_flag of spec §4.F step 5: set when
	// any diff merged into this mod-info during validation was a pure
	// default-value change.
	DefaultChange bool
}

// newInfo returns an empty mod-info for the given datastore.
func newInfo(ds modindex.Datastore) *Info {
	return &Info{Datastore: ds, byOffset: make(map[uint64]*Entry)}
}

// Entries returns the mod-info vector. Builder and NewSingleEntryInfo leave
// it sorted ascending by module-record offset (the canonical lock order
// every transaction agrees on); entries added later by AddDiscovered sit
// at the end, unsorted.
func (mi *Info) Entries() []*Entry {
	return mi.entries
}

// Lookup returns the entry for a module offset, or nil.
func (mi *Info) Lookup(offset uint64) *Entry {
	return mi.byOffset[offset]
}

// AddDiscovered inserts a module discovered only at validation time (spec
// §4.F step 2: instance-identifier targets resolved against live data,
// rather than the static dependency edges internal/modinfo.Builder already
// walked). It is the exported counterpart of add, for internal/validator.
// A new entry is appended to the end of the vector; the vector is not
// re-sorted.
func (mi *Info) AddDiscovered(m *modindex.ModuleRecord, state State) *Entry {
	e, _ := mi.add(m, state)
	return e
}

// add inserts or unions state for a module, returning whether its state
// actually rose above what it had before (used to decide whether
// dependency expansion must re-run for this module, spec §4.C step 5).
func (mi *Info) add(m *modindex.ModuleRecord, state State) (entry *Entry, rose bool) {
	if e, ok := mi.byOffset[m.Offset]; ok {
		before := e.State
		e.State |= state
		return e, e.State != before
	}
	e := &Entry{Module: m, State: state}
	mi.byOffset[m.Offset] = e
	mi.entries = append(mi.entries, e)
	return e, true
}

// sort orders the mod-info vector ascending by module-record offset (spec
// §4.C step 6).
func (mi *Info) sort() {
	sort.Slice(mi.entries, func(i, j int) bool { return mi.entries[i].Module.Offset < mi.entries[j].Module.Offset })
}
