package editdiff

// MergeDiff combines from into into under the rule that equal-path
// operations collapse ("delete+create -> modify, modify+delete -> delete,
// etc.", spec §4.E). into is mutated in place and returned implicitly
// through its Entries slice; the boolean result is the dflt_change_flag:
// true if merging introduced or touched any default-only change (spec
// §4.F step 5: "setting the default_change flag when any change is
// default-only").
//
// MergeDiff is associative and treats an empty diff as the identity
// element (spec §8), since merging no entries never changes into, and
// merging into an empty into is equivalent to adopting from's entries
// verbatim.
func MergeDiff(into, from *Diff) bool {
	if from.IsEmpty() {
		return false
	}
	if into.Module == "" {
		into.Module = from.Module
	}

	byPath := make(map[string]int, len(into.Entries))
	for i, e := range into.Entries {
		byPath[e.Path] = i
	}

	anyDefault := false
	for _, f := range from.Entries {
		if f.Default {
			anyDefault = true
		}

		idx, exists := byPath[f.Path]
		if !exists {
			into.Entries = append(into.Entries, f)
			byPath[f.Path] = len(into.Entries) - 1
			continue
		}

		existing := into.Entries[idx]
		if existing.Default && f.Default {
			anyDefault = true
		}
		merged, drop := combine(existing, f)
		if drop {
			removeEntry(into, idx)
			reindex(into, byPath)
			continue
		}
		into.Entries[idx] = merged
	}

	sortEntries(into.Entries)
	return anyDefault
}

// combine resolves two DiffEntry records for the same path: an existing
// entry already in the target diff and an incoming one being merged in.
// drop reports whether the net effect cancels out to no change at all
// (created then deleted within the same merge window).
func combine(existing, incoming DiffEntry) (merged DiffEntry, drop bool) {
	merged = DiffEntry{Path: existing.Path}
	merged.Default = existing.Default && incoming.Default

	switch {
	case existing.Op == DiffCreated && incoming.Op == DiffDeleted:
		return DiffEntry{}, true

	case existing.Op == DiffDeleted && incoming.Op == DiffCreated:
		merged.Op = DiffModified
		merged.Before = existing.Before
		merged.After = incoming.After
		return merged, false

	case existing.Op == DiffModified && incoming.Op == DiffDeleted:
		merged.Op = DiffDeleted
		merged.Before = existing.Before
		return merged, false

	case existing.Op == DiffCreated && incoming.Op == DiffModified:
		merged.Op = DiffCreated
		merged.After = incoming.After
		return merged, false

	case existing.Op == DiffDeleted && incoming.Op == DiffModified:
		merged.Op = DiffModified
		merged.Before = existing.Before
		merged.After = incoming.After
		return merged, false

	case existing.Op == DiffModified && incoming.Op == DiffModified:
		merged.Op = DiffModified
		merged.Before = existing.Before
		merged.After = incoming.After
		return merged, false

	case existing.Op == DiffCreated && incoming.Op == DiffCreated:
		merged.Op = DiffCreated
		merged.After = incoming.After
		return merged, false

	case existing.Op == DiffDeleted && incoming.Op == DiffDeleted:
		merged.Op = DiffDeleted
		merged.Before = existing.Before
		return merged, false

	default:
		// Moves and any other combination: the later entry wins outright.
		return incoming, false
	}
}

func removeEntry(d *Diff, idx int) {
	d.Entries = append(d.Entries[:idx], d.Entries[idx+1:]...)
}

func reindex(d *Diff, byPath map[string]int) {
	for k := range byPath {
		delete(byPath, k)
	}
	for i, e := range d.Entries {
		byPath[e.Path] = i
	}
}
