package editdiff

import "testing"

func TestApplyEditSetThenDelete(t *testing.T) {
	current := NewTree()

	edits := []Edit{{Module: "ex", Op: EditSet, Path: "/ex:a", Value: "1"}}
	next, diff, err := ApplyEdit(edits, "ex", current)
	if err != nil {
		t.Fatalf("ApplyEdit: %v", err)
	}
	if v, ok := next.Get("/ex:a"); !ok || v.Data != "1" {
		t.Fatalf("expected /ex:a = 1, got %v ok=%v", v, ok)
	}
	if len(diff.Entries) != 1 || diff.Entries[0].Op != DiffCreated {
		t.Fatalf("expected single created entry, got %+v", diff.Entries)
	}

	edits = []Edit{{Module: "ex", Op: EditDelete, Path: "/ex:a"}}
	final, diff2, err := ApplyEdit(edits, "ex", next)
	if err != nil {
		t.Fatalf("ApplyEdit delete: %v", err)
	}
	if _, ok := final.Get("/ex:a"); ok {
		t.Fatalf("expected /ex:a deleted")
	}
	if len(diff2.Entries) != 1 || diff2.Entries[0].Op != DiffDeleted {
		t.Fatalf("expected single deleted entry, got %+v", diff2.Entries)
	}
}

func TestApplyDiffRoundTrip(t *testing.T) {
	before := NewTree()
	before.Values["/ex:a"] = Value{Data: "1"}

	after := NewTree()
	after.Values["/ex:a"] = Value{Data: "2"}
	after.Values["/ex:b"] = Value{Data: "new"}

	d := Compute("ex", before, after)
	replayed, err := ApplyDiff(d, "ex", before)
	if err != nil {
		t.Fatalf("ApplyDiff: %v", err)
	}

	d2 := Compute("ex", before, replayed)
	if len(d.Entries) != len(d2.Entries) {
		t.Fatalf("round-trip diff mismatch: %+v vs %+v", d.Entries, d2.Entries)
	}
	for i := range d.Entries {
		if d.Entries[i] != d2.Entries[i] {
			t.Fatalf("round-trip entry mismatch at %d: %+v vs %+v", i, d.Entries[i], d2.Entries[i])
		}
	}
}

func TestMergeDiffIdentityAndAssociativity(t *testing.T) {
	a := NewDiff("ex")
	a.Entries = append(a.Entries, DiffEntry{Path: "/ex:a", Op: DiffCreated, After: "1"})

	empty := NewDiff("ex")
	clone := *a
	clone.Entries = append([]DiffEntry(nil), a.Entries...)
	if MergeDiff(&clone, empty) {
		t.Fatalf("merging empty diff should not report default change")
	}
	if len(clone.Entries) != len(a.Entries) {
		t.Fatalf("empty diff is not an identity: got %+v", clone.Entries)
	}

	b := NewDiff("ex")
	b.Entries = append(b.Entries, DiffEntry{Path: "/ex:a", Op: DiffModified, Before: "1", After: "2"})
	c := NewDiff("ex")
	c.Entries = append(c.Entries, DiffEntry{Path: "/ex:a", Op: DiffDeleted, Before: "2"})

	left := NewDiff("ex")
	left.Entries = append(left.Entries, a.Entries...)
	MergeDiff(left, b)
	MergeDiff(left, c)

	bc := NewDiff("ex")
	bc.Entries = append(bc.Entries, b.Entries...)
	MergeDiff(bc, c)
	right := NewDiff("ex")
	right.Entries = append(right.Entries, a.Entries...)
	MergeDiff(right, bc)

	if len(left.Entries) != len(right.Entries) {
		t.Fatalf("merge not associative: left=%+v right=%+v", left.Entries, right.Entries)
	}
}

func TestMergeDiffCollapsesCreateThenDelete(t *testing.T) {
	into := NewDiff("ex")
	into.Entries = append(into.Entries, DiffEntry{Path: "/ex:a", Op: DiffCreated, After: "1"})

	from := NewDiff("ex")
	from.Entries = append(from.Entries, DiffEntry{Path: "/ex:a", Op: DiffDeleted, Before: "1"})

	MergeDiff(into, from)
	if len(into.Entries) != 0 {
		t.Fatalf("expected create+delete to collapse to nothing, got %+v", into.Entries)
	}
}

func TestMergeDiffDefaultChangeFlag(t *testing.T) {
	into := NewDiff("ex")
	from := NewDiff("ex")
	from.Entries = append(from.Entries, DiffEntry{Path: "/ex:a", Op: DiffCreated, After: "dflt", Default: true})

	if !MergeDiff(into, from) {
		t.Fatalf("expected default_change flag to be set")
	}
}
