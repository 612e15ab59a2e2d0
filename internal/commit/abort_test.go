package commit

import (
	"context"
	"testing"

	"github.com/sr-shim/shimrepo/internal/editdiff"
	"github.com/sr-shim/shimrepo/internal/modindex"
	"github.com/sr-shim/shimrepo/internal/session"
	"github.com/sr-shim/shimrepo/internal/subscription"
	"github.com/sr-shim/shimrepo/pkg/errors"
)

type abortCall struct {
	priority int32
	event    subscription.EventTag
}

// TestCommitAbortOnCallbackFailure exercises spec §8 scenario 5: a
// subscriber callback_failed on CHANGE triggers the abort_notified branch,
// which re-delivers ABORT only to subscribers that already saw CHANGE, in
// the reverse of their CHANGE delivery order; persisted state is unchanged.
func TestCommitAbortOnCallbackFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	m, err := h.idx.Install(ctx, "ex", nil)
	if err != nil {
		t.Fatalf("install ex: %v", err)
	}

	var calls []abortCall
	makeCallback := func(priority int32, fail bool) subscription.Callback {
		return func(ctx context.Context, sess *session.Session, xpath string, event subscription.EventTag, requestID string, private any) (subscription.Status, error) {
			calls = append(calls, abortCall{priority: priority, event: event})
			if event == subscription.EventTagChange && fail {
				return subscription.StatusCallbackFailed, nil
			}
			return subscription.StatusOK, nil
		}
	}

	// Priority 2 (delivered first) and 1 (delivered second) succeed on
	// CHANGE; priority 0 (delivered last) fails, so only 2 and 1 have
	// already been notified when the abort branch fires.
	if _, err := h.subs.Subscribe(ctx, m, 2, "/ex:a", 0, makeCallback(2, false), nil); err != nil {
		t.Fatalf("subscribe p2: %v", err)
	}
	if _, err := h.subs.Subscribe(ctx, m, 1, "/ex:a", 0, makeCallback(1, false), nil); err != nil {
		t.Fatalf("subscribe p1: %v", err)
	}
	if _, err := h.subs.Subscribe(ctx, m, 0, "/ex:a", 0, makeCallback(0, true), nil); err != nil {
		t.Fatalf("subscribe p0: %v", err)
	}

	sess := session.New("sess-abort", modindex.Running)
	sess.SetPendingEdit([]editdiff.Edit{{Module: "ex", Op: editdiff.EditSet, Path: "/ex:a", Value: "1"}})

	err = h.pipe.Commit(ctx, sess)
	if err == nil {
		t.Fatalf("expected commit to fail with callback_failed")
	}
	ce, ok := errors.AsCommitError(err)
	if !ok {
		t.Fatalf("expected a CommitError, got %T: %v", err, err)
	}
	if ce.Code() != errors.ErrorCodeCallbackFailed {
		t.Fatalf("expected callback_failed, got %v", ce.Code())
	}

	_, present, loadErr := h.store.Load("ex", modindex.Running)
	if loadErr != nil {
		t.Fatalf("load: %v", loadErr)
	}
	if present {
		t.Fatalf("expected persisted state to remain unchanged after abort")
	}

	want := []abortCall{
		{2, subscription.EventTagChange},
		{1, subscription.EventTagChange},
		{0, subscription.EventTagChange}, // fails, no more CHANGE delivered
		{1, subscription.EventTagAbort},  // reverse order: 1 before 2
		{2, subscription.EventTagAbort},
	}
	if len(calls) != len(want) {
		t.Fatalf("expected %d calls, got %d: %+v", len(want), len(calls), calls)
	}
	for i, c := range calls {
		if c != want[i] {
			t.Fatalf("call %d: expected %+v, got %+v (full: %+v)", i, want[i], c, calls)
		}
	}
}
