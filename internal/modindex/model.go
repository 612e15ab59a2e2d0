package modindex

import "sync"

// Datastore enumerates the configuration contexts of spec §3: "An
// enumeration: {startup, running, candidate, operational}."
type Datastore int

const (
	Startup Datastore = iota
	Running
	Candidate
	Operational
)

// numDatastores is the fixed fan-out of per-module control blocks.
const numDatastores = int(Operational) + 1

func (d Datastore) String() string {
	switch d {
	case Startup:
		return "startup"
	case Running:
		return "running"
	case Candidate:
		return "candidate"
	case Operational:
		return "operational"
	default:
		return "unknown"
	}
}

// DepTag classifies a dependency edge per spec §3 "Dependency edge. A
// tagged record with: tag ∈ {direct-schema-ref, inverse-schema-ref,
// instance-identifier}...".
type DepTag int

const (
	DepDirect DepTag = iota
	DepInverse
	DepInstanceIdentifier
)

// DependencyEdge is the process-local hydration of a segment-resident
// dependency record. XPath is populated only for DepInstanceIdentifier
// edges; it names the leaf whose runtime value determines the edge's
// actual target (spec §4.C step 3, deferred to validation time).
type DependencyEdge struct {
	Tag    DepTag
	Target uint64 // target module record offset
	XPath  string
}

// ModuleRecord is the process-local, hydrated view of a module's segment
// record: name, precomputed dependency edges, materialized inverse edges,
// and the per-datastore control blocks that the lock coordinator (§4.D)
// and commit pipeline (§4.G) operate on.
//
// Offset is the module record's own byte offset in the shared segment. It
// never changes once assigned (spec §3: "Module record: created by
// install, never rewritten in place") and is the sort key that establishes
// the canonical lock order required by invariant 3.
type ModuleRecord struct {
	Offset uint64
	Name   string

	mu      sync.RWMutex // guards Deps/InvDeps against concurrent install/remove
	deps    []DependencyEdge
	invDeps map[uint64]struct{} // materialized reverse view, keyed by source module offset

	ctrl [numDatastores]*datastoreControlBlock

	// subHead is the anchor offset of this module's subscription table,
	// owned and mutated by internal/subscription.
	subHead uint64
}

// Deps returns a snapshot of this module's direct and instance-identifier
// dependency edges.
func (m *ModuleRecord) Deps() []DependencyEdge {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]DependencyEdge, len(m.deps))
	copy(out, m.deps)
	return out
}

// InvDeps returns the offsets of modules whose own direct dependency edges
// point at this module. Only these immediate reverse edges are recorded;
// modules that reach this one through a chain of edges are not included.
func (m *ModuleRecord) InvDeps() []uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uint64, 0, len(m.invDeps))
	for off := range m.invDeps {
		out = append(out, off)
	}
	return out
}

// ControlBlock returns the per-datastore lock/applying_changes state for ds.
func (m *ModuleRecord) ControlBlock(ds Datastore) *datastoreControlBlock {
	return m.ctrl[ds]
}

// SubscriptionHead returns this module's subscription-table anchor offset.
func (m *ModuleRecord) SubscriptionHead() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.subHead
}

// SetSubscriptionHead updates this module's subscription-table anchor;
// called by internal/subscription after a relocating insert/remove.
func (m *ModuleRecord) SetSubscriptionHead(off uint64) {
	m.mu.Lock()
	m.subHead = off
	m.mu.Unlock()
}

func (m *ModuleRecord) addInvDep(sourceOffset uint64) {
	m.mu.Lock()
	if m.invDeps == nil {
		m.invDeps = make(map[uint64]struct{})
	}
	m.invDeps[sourceOffset] = struct{}{}
	m.mu.Unlock()
}

func (m *ModuleRecord) removeInvDep(sourceOffset uint64) {
	m.mu.Lock()
	delete(m.invDeps, sourceOffset)
	m.mu.Unlock()
}
