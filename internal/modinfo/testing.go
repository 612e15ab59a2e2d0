package modinfo

import "github.com/sr-shim/shimrepo/internal/modindex"

// NewSingleEntryInfo builds a one-module mod-info directly, bypassing
// Builder's dependency-closure walk. It exists for focused tests of
// downstream components (internal/lockcoord, internal/validator) that need
// a mod-info without standing up a full module graph.
func NewSingleEntryInfo(ds modindex.Datastore, m *modindex.ModuleRecord, state State) *Info {
	info := newInfo(ds)
	info.add(m, state)
	info.sort()
	return info
}
