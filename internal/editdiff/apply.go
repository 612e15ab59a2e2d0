package editdiff

import "sort"

// ApplyEdit evaluates the edit fragments whose Module equals mod against
// current, producing a new tree and the diff that explains the change
// (spec §4.E "apply_edit"). current is not mutated; the returned tree is
// a fresh copy with the edits applied.
func ApplyEdit(edits []Edit, mod string, current *Tree) (*Tree, *Diff, error) {
	next := current.Clone()
	diff := NewDiff(mod)

	for _, e := range edits {
		if e.Module != mod {
			continue
		}

		switch e.Op {
		case EditSet:
			before, existed := next.Get(e.Path)
			next.Values[e.Path] = Value{Data: e.Value}

			entry := DiffEntry{Path: e.Path, After: e.Value}
			if existed {
				entry.Op = DiffModified
				entry.Before = before.Data
			} else {
				entry.Op = DiffCreated
			}
			diff.Entries = append(diff.Entries, entry)

		case EditDelete:
			before, existed := next.Get(e.Path)
			if !existed {
				continue
			}
			delete(next.Values, e.Path)
			diff.Entries = append(diff.Entries, DiffEntry{
				Path: e.Path, Op: DiffDeleted, Before: before.Data, Default: before.Default,
			})

		case EditMove:
			before, existed := next.Get(e.FromPath)
			if !existed {
				continue
			}
			delete(next.Values, e.FromPath)
			next.Values[e.Path] = before
			diff.Entries = append(diff.Entries, DiffEntry{
				Path: e.Path, FromPath: e.FromPath, Op: DiffMoved, Before: before.Data, After: before.Data,
			})
		}
	}

	sortEntries(diff.Entries)
	return next, diff, nil
}

// ApplyDiff deterministically replays diff against current, producing the
// resulting tree (spec §4.E "apply_diff"). Like ApplyEdit this never
// fails on a missing node: a diff is assumed to have been produced by a
// consistent ApplyEdit/merge_diff pipeline.
func ApplyDiff(diff *Diff, mod string, current *Tree) (*Tree, error) {
	next := current.Clone()
	if diff == nil || diff.Module != mod {
		return next, nil
	}

	for _, e := range diff.Entries {
		switch e.Op {
		case DiffCreated, DiffModified:
			next.Values[e.Path] = Value{Data: e.After, Default: e.Default}
		case DiffDeleted:
			delete(next.Values, e.Path)
		case DiffMoved:
			v, ok := next.Get(e.FromPath)
			if ok {
				delete(next.Values, e.FromPath)
			} else {
				v = Value{Data: e.After}
			}
			next.Values[e.Path] = v
		}
	}
	return next, nil
}

// Compute derives the diff between two trees of the same module, used by
// the round-trip law of spec §8: "diff(d1, apply_diff(diff(d1, d2), d1)) =
// diff(d1, d2) up to canonicalization."
func Compute(mod string, before, after *Tree) *Diff {
	diff := NewDiff(mod)
	seen := make(map[string]struct{}, len(before.Values)+len(after.Values))

	for path, av := range after.Values {
		seen[path] = struct{}{}
		bv, existed := before.Get(path)
		switch {
		case !existed:
			diff.Entries = append(diff.Entries, DiffEntry{Path: path, Op: DiffCreated, After: av.Data, Default: av.Default})
		case bv.Data != av.Data:
			diff.Entries = append(diff.Entries, DiffEntry{Path: path, Op: DiffModified, Before: bv.Data, After: av.Data, Default: bv.Default && av.Default})
		}
	}
	for path, bv := range before.Values {
		if _, ok := seen[path]; ok {
			continue
		}
		diff.Entries = append(diff.Entries, DiffEntry{Path: path, Op: DiffDeleted, Before: bv.Data, Default: bv.Default})
	}

	sortEntries(diff.Entries)
	return diff
}

func sortEntries(entries []DiffEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
}
