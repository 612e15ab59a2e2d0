// Package commit implements the commit pipeline of spec §4.G: the explicit
// state machine that drives a session's pending edit through locking,
// diffing, validation, subscriber notification, and persistence, with a
// reverse-order ABORT redelivery branch on subscriber failure.
package commit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sr-shim/shimrepo/internal/editdiff"
	"github.com/sr-shim/shimrepo/internal/lockcoord"
	"github.com/sr-shim/shimrepo/internal/modinfo"
	"github.com/sr-shim/shimrepo/internal/schemalib"
	"github.com/sr-shim/shimrepo/internal/session"
	"github.com/sr-shim/shimrepo/internal/storage"
	"github.com/sr-shim/shimrepo/internal/subscription"
	"github.com/sr-shim/shimrepo/internal/validator"
	shimerrors "github.com/sr-shim/shimrepo/pkg/errors"
	"github.com/sr-shim/shimrepo/pkg/metrics"
	"github.com/sr-shim/shimrepo/pkg/options"
	"go.uber.org/zap"
)

// Config holds the Pipeline's dependencies.
type Config struct {
	Builder       *modinfo.Builder
	Validator     *validator.Validator
	Subscriptions *subscription.Table
	Storage       *storage.Store
	Library       schemalib.Library
	Tuning        options.Tuning
	Logger        *zap.SugaredLogger
}

// Pipeline drives sessions through the spec §4.G commit state machine.
type Pipeline struct {
	builder *modinfo.Builder
	val     *validator.Validator
	subs    *subscription.Table
	store   *storage.Store
	lib     schemalib.Library
	tuning  options.Tuning
	log     *zap.SugaredLogger
}

// New constructs a Pipeline.
func New(cfg *Config) (*Pipeline, error) {
	if cfg == nil || cfg.Builder == nil || cfg.Validator == nil || cfg.Subscriptions == nil || cfg.Storage == nil || cfg.Library == nil {
		return nil, shimerrors.NewValidationError(nil, shimerrors.ErrorCodeInvalidInput, "builder, validator, subscriptions, storage and library are required").
			WithField("Config").WithRule("required")
	}
	return &Pipeline{
		builder: cfg.Builder,
		val:     cfg.Validator,
		subs:    cfg.Subscriptions,
		store:   cfg.Storage,
		lib:     cfg.Library,
		tuning:  cfg.Tuning,
		log:     cfg.Logger,
	}, nil
}

// notified records, per module, the subscribers that successfully received
// CHANGE in the order they received it: exactly what an abort needs to
// redeliver ABORT to, in reverse.
type notified struct {
	module string
	subs   []*subscription.Subscriber
}

// Commit drives sess's pending edit through the full pipeline: begin_commit,
// compute_diff, validate, notify_change, store, notify_done (spec §4.G). A
// subscriber callback_failed during notify_change short-circuits into the
// abort_notified branch, redelivering ABORT to already-notified subscribers
// in reverse order before returning the error.
func (p *Pipeline) Commit(ctx context.Context, sess *session.Session) error {
	txID := uuid.New().String()
	requestID := uuid.New().String()
	state := StateIdle

	phase := func(s State) func() {
		timer := metrics.NewTimer()
		return func() {
			timer.ObserveDurationVec(metrics.CommitPhaseDuration, s.String())
		}
	}

	// begin_commit: build the mod-info from the session's pending edit and
	// lock it write-intent with applying=true.
	stop := phase(StateLocked)
	info, err := p.builder.FromEdit(sess.Datastore, sess.PendingEdit())
	if err != nil {
		stop()
		return p.fail(state, "", requestID, err)
	}
	grant, err := lockcoord.LockAll(ctx, info, lockcoord.Write, true, txID, p.tuning)
	stop()
	if err != nil {
		return p.fail(state, "", requestID, err)
	}
	state = StateLocked
	defer grant.UnlockAll()

	// compute_diff: apply the pending edit against each REQ module's
	// on-disk data, attaching the resulting tree and diff.
	stop = phase(StateDiffed)
	if err := p.computeDiff(info, sess.PendingEdit()); err != nil {
		stop()
		return p.fail(state, "", requestID, err)
	}
	stop()
	state = StateDiffed

	// validate: run the schema library over REQ ∪ INV_DEP with
	// finish_diff=true so induced changes are folded back in.
	stop = phase(StateValidated)
	if err := p.val.Validate(ctx, info, true); err != nil {
		stop()
		return p.fail(state, "", requestID, err)
	}
	stop()
	state = StateValidated

	// notify_change: deliver CHANGE to every CHANGED module's subscribers
	// in priority order (higher first); a callback_failed short-circuits
	// into abort_notified.
	stop = phase(StateChangeNotified)
	already, changeErr := p.notifyChange(ctx, sess, info, requestID)
	stop()
	if changeErr != nil {
		p.redeliverAbort(ctx, sess, already, requestID)
		metrics.CommitsTotal.WithLabelValues("aborted").Inc()
		return p.fail(StateChangeNotified, "", requestID, changeErr)
	}
	state = StateChangeNotified

	// store: relock each REQ module from read back to write (spec §4.D
	// "relock(upgrade: bool)") before persisting, so the write lock is the
	// one released after DONE (spec §5 ordering guarantee 3), then persist
	// each CHANGED module's new data.
	stop = phase(StateStored)
	if err := grant.Relock(ctx, true); err != nil {
		stop()
		p.redeliverAbort(ctx, sess, already, requestID)
		metrics.CommitsTotal.WithLabelValues("aborted").Inc()
		return p.fail(StateStored, "", requestID, err)
	}
	storeErr := p.storeChanged(info)
	stop()
	if storeErr != nil {
		p.redeliverAbort(ctx, sess, already, requestID)
		metrics.CommitsTotal.WithLabelValues("aborted").Inc()
		return p.fail(StateStored, "", requestID, storeErr)
	}
	state = StateStored

	// notify_done: deliver DONE to every module that saw CHANGE.
	stop = phase(StateDoneNotified)
	p.notifyDone(ctx, sess, already, requestID)
	stop()

	sess.SetEvent(session.EventDone)
	metrics.CommitsTotal.WithLabelValues("done").Inc()
	return nil
}

func (p *Pipeline) computeDiff(info *modinfo.Info, edits []editdiff.Edit) error {
	for _, e := range info.Entries() {
		if !e.State.Has(modinfo.StateREQ) {
			continue
		}
		data, present, err := p.store.Load(e.Module.Name, info.Datastore)
		if err != nil {
			return err
		}
		var current *editdiff.Tree
		if present {
			current, err = p.lib.Parse(e.Module.Name, data)
			if err != nil {
				return err
			}
		} else {
			current = editdiff.NewTree()
		}
		next, diff, err := editdiff.ApplyEdit(edits, e.Module.Name, current)
		if err != nil {
			return err
		}
		e.CurrentData = next
		e.Diff = diff
		if !diff.IsEmpty() {
			e.State |= modinfo.StateCHANGED
		}
	}
	return nil
}

func (p *Pipeline) notifyChange(ctx context.Context, sess *session.Session, info *modinfo.Info, requestID string) ([]notified, error) {
	var delivered []notified

	for _, e := range info.Entries() {
		if !e.State.Has(modinfo.StateCHANGED) {
			continue
		}
		subs, err := p.subs.Ordered(e.Module)
		if err != nil {
			return delivered, err
		}

		var done []*subscription.Subscriber
		sess.SetPendingDiff(e.Diff)
		sess.SetEvent(session.EventChange)

		for _, sub := range subs {
			status, err := sub.Callback(ctx, sess, sub.XPath, subscription.EventTagChange, requestID, sub.Private)
			if err != nil || status != subscription.StatusOK {
				delivered = append(delivered, notified{module: e.Module.Name, subs: done})
				if p.log != nil {
					p.log.Warnw("subscriber callback failed on CHANGE", "module", e.Module.Name, "subscription", sub.ID, "err", err)
				}
				return delivered, shimerrors.NewCallbackFailedError(e.Module.Name, err)
			}
			done = append(done, sub)
		}
		delivered = append(delivered, notified{module: e.Module.Name, subs: done})
	}
	return delivered, nil
}

func (p *Pipeline) storeChanged(info *modinfo.Info) error {
	for _, e := range info.Entries() {
		if !e.State.Has(modinfo.StateCHANGED) {
			continue
		}
		data, err := p.lib.Serialize(e.Module.Name, e.CurrentData)
		if err != nil {
			return err
		}
		if err := p.store.Store(e.Module.Name, info.Datastore, data); err != nil {
			return err
		}
	}
	return nil
}

// redeliverAbort re-delivers ABORT to every module's already-notified
// subscribers in reverse order (spec §4.G "re-delivers event tag ABORT to
// the subscribers that already saw CHANGE in reverse order").
func (p *Pipeline) redeliverAbort(ctx context.Context, sess *session.Session, already []notified, requestID string) {
	sess.SetEvent(session.EventAbort)
	for _, n := range already {
		for i := len(n.subs) - 1; i >= 0; i-- {
			sub := n.subs[i]
			if _, err := sub.Callback(ctx, sess, sub.XPath, subscription.EventTagAbort, requestID, sub.Private); err != nil && p.log != nil {
				p.log.Warnw("subscriber callback failed on ABORT", "module", n.module, "subscription", sub.ID, "err", err)
			}
		}
	}
}

func (p *Pipeline) notifyDone(ctx context.Context, sess *session.Session, already []notified, requestID string) {
	sess.SetEvent(session.EventDone)
	for _, n := range already {
		for _, sub := range n.subs {
			if _, err := sub.Callback(ctx, sess, sub.XPath, subscription.EventTagDone, requestID, sub.Private); err != nil && p.log != nil {
				p.log.Warnw("subscriber callback failed on DONE", "module", n.module, "subscription", sub.ID, "err", err)
			}
		}
	}
}

func (p *Pipeline) fail(state State, module, requestID string, err error) error {
	if p.log != nil {
		p.log.Errorw("commit failed", "state", state.String(), "module", module, "err", err)
	}
	if ce, ok := shimerrors.AsCommitError(err); ok {
		return ce.WithState(shimerrors.CommitState(state.String())).WithRequestID(requestID)
	}
	return fmt.Errorf("commit failed in state %s: %w", state, err)
}
