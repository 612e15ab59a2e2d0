package shm

import (
	"context"
	"path/filepath"
	"testing"
)

// TestRemapGrowsAndPreservesExistingData exercises spec §8 scenario 6
// (shared-segment remap): an Alloc that doesn't fit in the current mapping
// grows the segment via Remap, and bytes written before the grow remain
// readable at their original offset afterward (the offset-only addressing
// invariant of spec §4.A that lets every other component hold offsets
// instead of pointers across a remap).
func TestRemapGrowsAndPreservesExistingData(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	seg, err := Attach(Config{Path: filepath.Join(dir, "seg.shm"), InitialSize: HeaderSize + 64})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	t.Cleanup(func() { seg.Detach() })

	sizeBefore := seg.Size()

	off, err := seg.PutString(ctx, "hello")
	if err != nil {
		t.Fatalf("PutString: %v", err)
	}
	got, err := seg.GetString(off)
	if err != nil || got != "hello" {
		t.Fatalf("GetString before grow: %q, %v", got, err)
	}

	// Force a grow well beyond the current size.
	bigSize := sizeBefore * 8
	if err := seg.Remap(ctx, bigSize); err != nil {
		t.Fatalf("Remap: %v", err)
	}
	if seg.Size() < bigSize {
		t.Fatalf("expected segment size >= %d after Remap, got %d", bigSize, seg.Size())
	}

	// The string written before the grow must still resolve at the same
	// offset: offset-only addressing means nothing had to be migrated.
	got, err = seg.GetString(off)
	if err != nil || got != "hello" {
		t.Fatalf("GetString after grow: %q, %v", got, err)
	}
}

// TestRemapIsNoopWhenAlreadyLargeEnough verifies Remap doesn't shrink or
// needlessly reallocate when the segment already satisfies newSize.
func TestRemapIsNoopWhenAlreadyLargeEnough(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	seg, err := Attach(Config{Path: filepath.Join(dir, "seg.shm"), InitialSize: HeaderSize + 4096})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	t.Cleanup(func() { seg.Detach() })

	before := seg.Size()
	if err := seg.Remap(ctx, HeaderSize+16); err != nil {
		t.Fatalf("Remap: %v", err)
	}
	if seg.Size() != before {
		t.Fatalf("expected no-op Remap to leave size at %d, got %d", before, seg.Size())
	}
}

// TestAllocGrowsAutomaticallyWhenTailExceedsSize exercises the
// alloc-triggers-grow path directly (spec §4.A: Alloc "growing the segment
// via Remap first if there isn't enough room").
func TestAllocGrowsAutomaticallyWhenTailExceedsSize(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	seg, err := Attach(Config{Path: filepath.Join(dir, "seg.shm"), InitialSize: HeaderSize + 8})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	t.Cleanup(func() { seg.Detach() })

	sizeBefore := seg.Size()
	off, err := seg.Alloc(ctx, 4096)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if seg.Size() <= sizeBefore {
		t.Fatalf("expected Alloc to grow the segment, size stayed at %d", seg.Size())
	}
	if err := seg.PutBytes(off, []byte("payload")); err != nil {
		t.Fatalf("PutBytes into newly grown region: %v", err)
	}
}

// TestGrowBeyondMaxSizeFailsResourceExhausted verifies spec §4.A's
// resource_exhausted failure mode when a requested size exceeds MaxSize.
func TestGrowBeyondMaxSizeFailsResourceExhausted(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	seg, err := Attach(Config{Path: filepath.Join(dir, "seg.shm"), InitialSize: HeaderSize + 8})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	t.Cleanup(func() { seg.Detach() })

	origMax := MaxSize
	MaxSize = seg.Size() + 1
	t.Cleanup(func() { MaxSize = origMax })

	if err := seg.Remap(ctx, seg.Size()*4); err == nil {
		t.Fatalf("expected resource_exhausted error growing past MaxSize")
	}
}
