// Package session implements the session API surface spec §6 names as
// "consumed by the core": current event kind, a pending edit tree, a
// pending diff, and a target datastore. The core (internal/commit) reads
// and mutates exactly these fields and nothing else in a session.
package session

import (
	"sync"

	"github.com/sr-shim/shimrepo/internal/editdiff"
	"github.com/sr-shim/shimrepo/internal/modindex"
)

// EventKind is the session's current notification state, per spec §6
// "current event kind ∈ {none, update, change, done, abort}".
type EventKind int

const (
	EventNone EventKind = iota
	EventUpdate
	EventChange
	EventDone
	EventAbort
)

func (k EventKind) String() string {
	switch k {
	case EventNone:
		return "none"
	case EventUpdate:
		return "update"
	case EventChange:
		return "change"
	case EventDone:
		return "done"
	case EventAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// Session carries one client's pending change and datastore target across
// a single commit. The core mutates no other session state (spec §6).
//
// rpcInput/rpcOutput carry an RPC/action's input and mutable output trees
// (spec §6 "for RPC callbacks, additionally an input tree and a mutable
// output tree"), supplementing the plain CHANGE/DONE/ABORT session state
// with the two-way RPC exchange original_source/tests/test_rpc_action.c
// exercises. They are nil outside an in-flight RPC dispatch.
type Session struct {
	ID        string
	Datastore modindex.Datastore

	mu          sync.Mutex
	event       EventKind
	pendingEdit []editdiff.Edit
	pendingDiff *editdiff.Diff
	rpcInput    *editdiff.Tree
	rpcOutput   *editdiff.Tree
}

// New returns an idle session targeting ds.
func New(id string, ds modindex.Datastore) *Session {
	return &Session{ID: id, Datastore: ds, event: EventNone}
}

// SetPendingEdit stashes the edit fragments a begin_commit call will build
// a mod-info from.
func (s *Session) SetPendingEdit(edits []editdiff.Edit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingEdit = edits
}

// PendingEdit returns the session's stashed edit fragments.
func (s *Session) PendingEdit() []editdiff.Edit {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]editdiff.Edit, len(s.pendingEdit))
	copy(out, s.pendingEdit)
	return out
}

// SetPendingDiff records the diff produced by the in-flight commit, so a
// caller inspecting the session mid-pipeline can observe it.
func (s *Session) SetPendingDiff(d *editdiff.Diff) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingDiff = d
}

// PendingDiff returns the session's in-flight diff, or nil.
func (s *Session) PendingDiff() *editdiff.Diff {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingDiff
}

// SetEvent records the event kind the commit pipeline last delivered for
// this session.
func (s *Session) SetEvent(e EventKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.event = e
}

// Event returns the session's current event kind.
func (s *Session) Event() EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.event
}

// BeginRPC stashes an RPC/action's input tree and resets a fresh, empty
// output tree for an RPC callback to populate.
func (s *Session) BeginRPC(input *editdiff.Tree) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rpcInput = input
	s.rpcOutput = editdiff.NewTree()
}

// RPCInput returns the in-flight RPC's input tree, or nil outside an RPC.
func (s *Session) RPCInput() *editdiff.Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rpcInput
}

// RPCOutput returns the in-flight RPC's mutable output tree, which an RPC
// callback populates in place before returning, or nil outside an RPC.
func (s *Session) RPCOutput() *editdiff.Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rpcOutput
}

// EndRPC clears the RPC input/output trees once dispatch has completed.
func (s *Session) EndRPC() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rpcInput = nil
	s.rpcOutput = nil
}
