package subscription

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sr-shim/shimrepo/internal/modindex"
	"github.com/sr-shim/shimrepo/internal/session"
	"github.com/sr-shim/shimrepo/internal/shm"
)

func newTestTable(t *testing.T) (*Table, *modindex.ModuleRecord) {
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
	m, err := idx.Install(context.Background(), "ex", nil)
	if err != nil {
		t.Fatalf("install: %v", err)
	}

	return New(seg, nil), m
}

func noopCallback(ctx context.Context, sess *session.Session, xpath string, event EventTag, requestID string, private any) (Status, error) {
	return StatusOK, nil
}

func TestSubscribeOrderingByPriority(t *testing.T) {
	ctx := context.Background()
	table, m := newTestTable(t)

	lowID, err := table.Subscribe(ctx, m, 1, "/ex:a", 0, noopCallback, "low")
	if err != nil {
		t.Fatalf("subscribe low: %v", err)
	}
	highID, err := table.Subscribe(ctx, m, 10, "/ex:b", 0, noopCallback, "high")
	if err != nil {
		t.Fatalf("subscribe high: %v", err)
	}

	ordered, err := table.Ordered(m)
	if err != nil {
		t.Fatalf("Ordered: %v", err)
	}
	if len(ordered) != 2 || ordered[0].ID != highID || ordered[1].ID != lowID {
		t.Fatalf("expected high-priority subscriber first, got %+v", ordered)
	}
}

func TestSubscribeRelocateOnInterveningAlloc(t *testing.T) {
	ctx := context.Background()
	table, m := newTestTable(t)

	if _, err := table.Subscribe(ctx, m, 1, "/ex:a", 0, noopCallback, nil); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// Allocate unrelated segment bytes so the table no longer ends at the
	// segment's tail, forcing the next Subscribe down the relocate path.
	if _, err := table.seg.Alloc(ctx, 64); err != nil {
		t.Fatalf("alloc filler: %v", err)
	}

	second, err := table.Subscribe(ctx, m, 2, "/ex:b", 0, noopCallback, nil)
	if err != nil {
		t.Fatalf("subscribe second: %v", err)
	}

	ordered, err := table.Ordered(m)
	if err != nil {
		t.Fatalf("Ordered: %v", err)
	}
	if len(ordered) != 2 {
		t.Fatalf("expected 2 subscribers, got %d", len(ordered))
	}
	found := false
	for _, s := range ordered {
		if s.ID == second {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected second subscriber present after relocate path")
	}
}

func TestRemoveSwapsWithLastSlot(t *testing.T) {
	ctx := context.Background()
	table, m := newTestTable(t)

	a, err := table.Subscribe(ctx, m, 1, "/ex:a", 0, noopCallback, nil)
	if err != nil {
		t.Fatalf("subscribe a: %v", err)
	}
	b, err := table.Subscribe(ctx, m, 2, "/ex:b", 0, noopCallback, nil)
	if err != nil {
		t.Fatalf("subscribe b: %v", err)
	}

	if err := table.Remove(ctx, m, a); err != nil {
		t.Fatalf("remove a: %v", err)
	}

	ordered, err := table.Ordered(m)
	if err != nil {
		t.Fatalf("Ordered: %v", err)
	}
	if len(ordered) != 1 || ordered[0].ID != b {
		t.Fatalf("expected only b to remain, got %+v", ordered)
	}

	if err := table.Remove(ctx, m, a); err == nil {
		t.Fatalf("expected removing an already-removed subscription to fail")
	}
}
