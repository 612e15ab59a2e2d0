package engine

import (
	"context"
	"testing"

	"github.com/sr-shim/shimrepo/internal/editdiff"
	"github.com/sr-shim/shimrepo/internal/modindex"
	"github.com/sr-shim/shimrepo/internal/session"
	"github.com/sr-shim/shimrepo/internal/subscription"
	"github.com/sr-shim/shimrepo/pkg/logger"
	"github.com/sr-shim/shimrepo/pkg/options"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()

	opts := options.NewDefaultOptions()
	opts.RepoRoot = dir

	e, err := New(context.Background(), &Config{
		Options: &opts,
		Logger:  logger.NewDevelopment("engine-test"),
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

// TestEngineInstallSubscribeCommitGet exercises the full wiring end to
// end: install a module, subscribe to it, commit a set, then read it back.
func TestEngineInstallSubscribeCommitGet(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	if _, err := e.Install(ctx, "ex", nil); err != nil {
		t.Fatalf("install: %v", err)
	}

	var calls []subscription.EventTag
	cb := func(ctx context.Context, sess *session.Session, xpath string, event subscription.EventTag, requestID string, private any) (subscription.Status, error) {
		calls = append(calls, event)
		return subscription.StatusOK, nil
	}
	if _, err := e.Subscribe(ctx, "ex", 0, "/ex:a", 0, cb, nil); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	sess := e.NewSession("sess-1", modindex.Running)
	sess.SetPendingEdit([]editdiff.Edit{{Module: "ex", Op: editdiff.EditSet, Path: "/ex:a", Value: "1"}})

	if err := e.Commit(ctx, sess); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(calls) != 2 || calls[0] != subscription.EventTagChange || calls[1] != subscription.EventTagDone {
		t.Fatalf("expected CHANGE then DONE, got %+v", calls)
	}

	got, err := e.Get(ctx, modindex.Running, "/ex:a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	v, ok := got["/ex:a"]
	if !ok || v.Data != "1" {
		t.Fatalf("expected /ex:a = 1, got %+v", got)
	}
}

// TestEngineRPCDispatch exercises the RPC/action dispatch path added from
// original_source/tests/test_rpc_action.c: a subscriber reads the input
// tree and populates the output tree, which RPC then returns to the
// caller.
func TestEngineRPCDispatch(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	if _, err := e.Install(ctx, "ex", nil); err != nil {
		t.Fatalf("install: %v", err)
	}

	cb := func(ctx context.Context, sess *session.Session, xpath string, event subscription.EventTag, requestID string, private any) (subscription.Status, error) {
		if event != subscription.EventTagRPC {
			t.Fatalf("expected RPC event, got %v", event)
		}
		in := sess.RPCInput()
		v, _ := in.Get("/ex:rpc/input")
		sess.RPCOutput().Values["/ex:rpc/output"] = editdiff.Value{Data: v.Data}
		return subscription.StatusOK, nil
	}
	if _, err := e.Subscribe(ctx, "ex", 0, "/ex:rpc", 0, cb, nil); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	input := editdiff.NewTree()
	input.Values["/ex:rpc/input"] = editdiff.Value{Data: "hello"}

	out, err := e.RPC(ctx, "ex", "/ex:rpc", "req-1", input)
	if err != nil {
		t.Fatalf("rpc: %v", err)
	}
	v, ok := out.Get("/ex:rpc/output")
	if !ok || v.Data != "hello" {
		t.Fatalf("expected output echo, got %+v ok=%v", v, ok)
	}
}

// TestEngineCloseIdempotent verifies Close returns ErrEngineClosed on a
// second call instead of double-releasing the segment.
func TestEngineCloseIdempotent(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := e.Close(); err != ErrEngineClosed {
		t.Fatalf("expected ErrEngineClosed on second close, got %v", err)
	}
}

// TestEngineOperationsAfterCloseFail checks that Install and Get reject
// work with ErrEngineClosed once the engine has been closed.
func TestEngineOperationsAfterCloseFail(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	if _, err := e.Install(ctx, "ex", nil); err != nil {
		t.Fatalf("install: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := e.Install(ctx, "other", nil); err != ErrEngineClosed {
		t.Fatalf("expected ErrEngineClosed from Install, got %v", err)
	}
	if _, err := e.Get(ctx, modindex.Running, "/ex:a"); err != ErrEngineClosed {
		t.Fatalf("expected ErrEngineClosed from Get, got %v", err)
	}
}
