// Package shimrepo is the public entry point for the shared-memory
// configuration datastore engine: a process-shared module catalog, commit
// pipeline, and subscription table modeled on NETCONF/YANG/sysrepo (spec
// §1 overview). It wraps internal/engine behind a thin constructor plus
// pass-through methods, so callers never import an internal package
// directly.
package shimrepo

import (
	"context"

	"github.com/sr-shim/shimrepo/internal/editdiff"
	"github.com/sr-shim/shimrepo/internal/engine"
	"github.com/sr-shim/shimrepo/internal/modindex"
	"github.com/sr-shim/shimrepo/internal/schemalib"
	"github.com/sr-shim/shimrepo/internal/session"
	"github.com/sr-shim/shimrepo/internal/subscription"
	"github.com/sr-shim/shimrepo/pkg/logger"
	"github.com/sr-shim/shimrepo/pkg/options"
)

// Re-exported so callers can name datastores, edits, and subscription
// knobs without reaching into internal packages.
type (
	Datastore       = modindex.Datastore
	DependencyEdge  = modindex.DependencyEdge
	Edit            = editdiff.Edit
	Value           = editdiff.Value
	Session         = session.Session
	Subscription    = subscription.Options
	Callback        = subscription.Callback
	Library         = schemalib.Library
)

const (
	Startup     = modindex.Startup
	Running     = modindex.Running
	Candidate   = modindex.Candidate
	Operational = modindex.Operational
)

// Instance is an open connection to a shimrepo deployment: the attached
// shared segment plus every component built over it.
type Instance struct {
	engine  *engine.Engine
	options *options.Options
}

// NewInstance attaches (creating on first use) the shared segment under
// the configured repo root and returns a ready-to-use Instance.
func NewInstance(ctx context.Context, service string, opts ...options.OptionFunc) (*Instance, error) {
	log := logger.New(service)

	defaultOpts := options.NewDefaultOptions()
	for _, opt := range opts {
		opt(&defaultOpts)
	}

	eng, err := engine.New(ctx, &engine.Config{Logger: log, Options: &defaultOpts})
	if err != nil {
		return nil, err
	}

	return &Instance{engine: eng, options: &defaultOpts}, nil
}

// Install registers a module in the catalog (spec §4.B).
func (i *Instance) Install(ctx context.Context, name string, deps []DependencyEdge) (*modindex.ModuleRecord, error) {
	return i.engine.Install(ctx, name, deps)
}

// Modules returns every installed module, in canonical lock order.
func (i *Instance) Modules() []*modindex.ModuleRecord {
	return i.engine.Modules()
}

// Module looks up an installed module by name.
func (i *Instance) Module(name string) (*modindex.ModuleRecord, error) {
	return i.engine.Module(name)
}

// RemoveModule removes a previously installed module.
func (i *Instance) RemoveModule(ctx context.Context, name string) error {
	return i.engine.RemoveModule(ctx, name)
}

// ModuleStatus is the administrative view of a module's per-datastore lock
// state, re-exported so cmd/shimrepoctl never imports internal/engine.
type ModuleStatus = engine.ModuleStatus

// ModuleStatus reports whether a commit is currently mid-flight
// (applying_changes) on module's ds control block.
func (i *Instance) ModuleStatus(module string, ds Datastore) (ModuleStatus, error) {
	return i.engine.ModuleStatus(module, ds)
}

// ForceUnlock administratively clears module's ds control block, for
// operator recovery after a commit crashed mid-flight.
func (i *Instance) ForceUnlock(module string, ds Datastore, write bool) error {
	return i.engine.ForceUnlock(module, ds, write)
}

// Subscribe registers a callback for change/done/abort notifications on a
// module's subtree (spec §4.H).
func (i *Instance) Subscribe(
	ctx context.Context,
	module string,
	priority int32,
	xpath string,
	opts Subscription,
	cb Callback,
	private any,
) (uint64, error) {
	return i.engine.Subscribe(ctx, module, priority, xpath, opts, cb, private)
}

// Unsubscribe removes a previously registered subscription.
func (i *Instance) Unsubscribe(ctx context.Context, module string, id uint64) error {
	return i.engine.Unsubscribe(ctx, module, id)
}

// NewSession starts a new edit session against a datastore (spec §6).
func (i *Instance) NewSession(id string, ds Datastore) *Session {
	return i.engine.NewSession(id, ds)
}

// Commit drives sess's pending edit through locking, diffing, validation,
// subscriber notification, and persistence (spec §4.G).
func (i *Instance) Commit(ctx context.Context, sess *Session) error {
	return i.engine.Commit(ctx, sess)
}

// Get evaluates an XPath against a datastore's persisted state.
func (i *Instance) Get(ctx context.Context, ds Datastore, xpath string) (map[string]Value, error) {
	return i.engine.Get(ctx, ds, xpath)
}

// RPC dispatches an RPC/action to module's subscribers, returning the
// first one's mutable output tree.
func (i *Instance) RPC(ctx context.Context, module, xpath, requestID string, input *editdiff.Tree) (*editdiff.Tree, error) {
	return i.engine.RPC(ctx, module, xpath, requestID, input)
}

// Close detaches the shared segment and releases the module index. It is
// safe to call more than once; only the first call performs work.
func (i *Instance) Close(ctx context.Context) error {
	return i.engine.Close()
}
