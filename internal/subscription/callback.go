package subscription

import (
	"context"

	"github.com/sr-shim/shimrepo/internal/session"
)

// EventTag names the notification kind delivered to a subscriber callback
// (spec §6 "Subscriber callback signature").
type EventTag int

const (
	EventTagChange EventTag = iota
	EventTagDone
	EventTagAbort
	EventTagRPC
)

func (t EventTag) String() string {
	switch t {
	case EventTagChange:
		return "CHANGE"
	case EventTagDone:
		return "DONE"
	case EventTagAbort:
		return "ABORT"
	case EventTagRPC:
		return "RPC"
	default:
		return "unknown"
	}
}

// Status is a callback's outcome (spec §6 "Status ∈ {ok,
// callback_failed(reason)}").
type Status int

const (
	StatusOK Status = iota
	StatusCallbackFailed
)

// Options bit flags a subscription may request.
type Options uint32

const (
	// OptionCtxReuse marks a subscription as reusing an existing
	// subscription context owned by the session (spec §4.G). The bit is
	// stored in the subscription's slot; Table does not otherwise act on it,
	// and every Subscribe creates its own slot and registry entry.
	OptionCtxReuse Options = 1 << iota
)

// Callback is the subscriber callback signature of spec §6:
// "(session, xpath, event, request_id, private) → status". RPC callbacks
// additionally exchange an input/output tree; this core does not interpret
// those trees, so they are passed through as opaque values.
type Callback func(ctx context.Context, sess *session.Session, xpath string, event EventTag, requestID string, private any) (Status, error)

// Subscriber is one registered callback, carrying both its segment-resident
// metadata (ID, Priority, Options, XPath) and its process-local callback
// closure. The closure itself cannot live in the shared segment for the
// same reason internal/modindex's locks cannot: Go has no cgo-free way to
// place a function pointer in mmap'd bytes that remains valid across
// processes.
type Subscriber struct {
	ID       uint64
	Priority int32
	Options  Options
	XPath    string
	Private  any
	Callback Callback
}
