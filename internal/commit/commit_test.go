package commit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sr-shim/shimrepo/internal/editdiff"
	"github.com/sr-shim/shimrepo/internal/modindex"
	"github.com/sr-shim/shimrepo/internal/modinfo"
	"github.com/sr-shim/shimrepo/internal/schemalib/memlib"
	"github.com/sr-shim/shimrepo/internal/session"
	"github.com/sr-shim/shimrepo/internal/shm"
	"github.com/sr-shim/shimrepo/internal/storage"
	"github.com/sr-shim/shimrepo/internal/subscription"
	"github.com/sr-shim/shimrepo/internal/validator"
	"github.com/sr-shim/shimrepo/pkg/logger"
	"github.com/sr-shim/shimrepo/pkg/options"
)

type harness struct {
	idx   *modindex.Index
	store *storage.Store
	subs  *subscription.Table
	lib   *memlib.Library
	pipe  *Pipeline
}

func newHarness(t *testing.T) *harness {
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
		Logger:  logger.NewDevelopment("commit-test"),
	})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}

	lib := memlib.New()
	builder := modinfo.NewBuilder(idx)
	val, err := validator.New(&validator.Config{Library: lib, Storage: store, Index: idx})
	if err != nil {
		t.Fatalf("validator.New: %v", err)
	}
	subs := subscription.New(seg, nil)

	pipe, err := New(&Config{
		Builder:       builder,
		Validator:     val,
		Subscriptions: subs,
		Storage:       store,
		Library:       lib,
		Tuning: options.Tuning{
			ModuleLockTimeout: time.Second,
			CommitStepCount:   5,
			CommitStepSleep:   time.Millisecond,
		},
	})
	if err != nil {
		t.Fatalf("commit.New: %v", err)
	}

	return &harness{idx: idx, store: store, subs: subs, lib: lib, pipe: pipe}
}

type recordedCall struct {
	event subscription.EventTag
	diff  *editdiff.Diff
}

func recordingCallback(calls *[]recordedCall) subscription.Callback {
	return func(ctx context.Context, sess *session.Session, xpath string, event subscription.EventTag, requestID string, private any) (subscription.Status, error) {
		*calls = append(*calls, recordedCall{event: event, diff: sess.PendingDiff()})
		return subscription.StatusOK, nil
	}
}

// TestCommitSetThenDelete exercises spec §8 scenario 1: single-module set
// then delete, each committed change observed by a subscriber as a
// CHANGE -> DONE pair with the expected diff.
func TestCommitSetThenDelete(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	m, err := h.idx.Install(ctx, "ex", nil)
	if err != nil {
		t.Fatalf("install ex: %v", err)
	}

	var calls []recordedCall
	if _, err := h.subs.Subscribe(ctx, m, 0, "/ex:a", 0, recordingCallback(&calls), nil); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	sess := session.New("sess-1", modindex.Running)
	sess.SetPendingEdit([]editdiff.Edit{{Module: "ex", Op: editdiff.EditSet, Path: "/ex:a", Value: "1"}})

	if err := h.pipe.Commit(ctx, sess); err != nil {
		t.Fatalf("commit set: %v", err)
	}

	data, present, err := h.store.Load("ex", modindex.Running)
	if err != nil || !present {
		t.Fatalf("expected persisted data after set, present=%v err=%v", present, err)
	}
	tree, err := h.lib.Parse("ex", data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v, ok := tree.Get("/ex:a"); !ok || v.Data != "1" {
		t.Fatalf("expected /ex:a = 1 on disk, got %v ok=%v", v, ok)
	}

	if len(calls) != 2 || calls[0].event != subscription.EventTagChange || calls[1].event != subscription.EventTagDone {
		t.Fatalf("expected CHANGE then DONE, got %+v", calls)
	}
	if calls[0].diff == nil || len(calls[0].diff.Entries) != 1 || calls[0].diff.Entries[0].Op != editdiff.DiffCreated {
		t.Fatalf("expected a single created entry in the CHANGE diff, got %+v", calls[0].diff)
	}

	calls = nil
	sess.SetPendingEdit([]editdiff.Edit{{Module: "ex", Op: editdiff.EditDelete, Path: "/ex:a"}})
	if err := h.pipe.Commit(ctx, sess); err != nil {
		t.Fatalf("commit delete: %v", err)
	}

	data, present, err = h.store.Load("ex", modindex.Running)
	if err != nil || !present {
		t.Fatalf("expected a (now-empty) persisted file, present=%v err=%v", present, err)
	}
	tree, err = h.lib.Parse("ex", data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok := tree.Get("/ex:a"); ok {
		t.Fatalf("expected /ex:a deleted")
	}
	if len(calls) != 2 || calls[0].event != subscription.EventTagChange || calls[1].event != subscription.EventTagDone {
		t.Fatalf("expected CHANGE then DONE on delete, got %+v", calls)
	}
	if calls[0].diff == nil || len(calls[0].diff.Entries) != 1 || calls[0].diff.Entries[0].Op != editdiff.DiffDeleted {
		t.Fatalf("expected a single deleted entry in the CHANGE diff, got %+v", calls[0].diff)
	}
}
