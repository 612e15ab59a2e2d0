package errors

// ValidationIssue is a single (message, xpath?) entry as described in spec
// §7: the validator's multi-error case carries a bounded vector of these.
type ValidationIssue struct {
	Message string
	XPath   string // empty when the failure has no associated node
}

// SchemaValidationError is a specialized error type for §4.F validator
// failures. It carries the bounded list of issues the external schema
// library reported, rather than a single message.
type SchemaValidationError struct {
	*baseError

	issues []ValidationIssue
}

// NewSchemaValidationError creates a validation_failed error with the given
// issue list already attached.
func NewSchemaValidationError(issues []ValidationIssue) *SchemaValidationError {
	return &SchemaValidationError{
		baseError: NewBaseError(nil, ErrorCodeValidationFailed, "schema validation failed"),
		issues:    issues,
	}
}

// WithMessage updates the error message while maintaining the type.
func (ve *SchemaValidationError) WithMessage(msg string) *SchemaValidationError {
	ve.baseError.WithMessage(msg)
	return ve
}

// WithDetail adds contextual information while maintaining the type.
func (ve *SchemaValidationError) WithDetail(key string, value any) *SchemaValidationError {
	ve.baseError.WithDetail(key, value)
	return ve
}

// Issues returns the bounded (message, xpath?) vector reported by the
// schema library.
func (ve *SchemaValidationError) Issues() []ValidationIssue {
	return ve.issues
}

// CommitState names the commit-pipeline state a CommitError was raised in,
// mirroring the state machine of spec §4.G.
type CommitState string

const (
	CommitStateIdle          CommitState = "idle"
	CommitStateLocked        CommitState = "locked"
	CommitStateDiffed        CommitState = "diffed"
	CommitStateValidated     CommitState = "validated"
	CommitStateChangeNotify  CommitState = "change_notified"
	CommitStateStored        CommitState = "stored"
	CommitStateDoneNotify    CommitState = "done_notified"
	CommitStateAbortNotify   CommitState = "abort_notified"
)

// CommitError is a specialized error type for internal/commit failures: it
// records which state the pipeline was in when the failure occurred, so
// callers (and logs) can distinguish "failed before any side effect" from
// "failed after notifying subscribers".
type CommitError struct {
	*baseError

	state        CommitState
	module       string
	requestID    string
}

// NewCommitError creates a new commit-pipeline error with the provided context.
func NewCommitError(err error, code ErrorCode, msg string) *CommitError {
	return &CommitError{baseError: NewBaseError(err, code, msg)}
}

// WithMessage updates the error message while maintaining the CommitError type.
func (ce *CommitError) WithMessage(msg string) *CommitError {
	ce.baseError.WithMessage(msg)
	return ce
}

// WithDetail adds contextual information while maintaining the CommitError type.
func (ce *CommitError) WithDetail(key string, value any) *CommitError {
	ce.baseError.WithDetail(key, value)
	return ce
}

// WithState records the commit-pipeline state active when this error arose.
func (ce *CommitError) WithState(s CommitState) *CommitError {
	ce.state = s
	return ce
}

// WithModule records which module's subscriber (or store step) failed.
func (ce *CommitError) WithModule(name string) *CommitError {
	ce.module = name
	return ce
}

// WithRequestID records the RPC/notification request ID in flight, if any.
func (ce *CommitError) WithRequestID(id string) *CommitError {
	ce.requestID = id
	return ce
}

// State returns the commit-pipeline state active when this error arose.
func (ce *CommitError) State() CommitState { return ce.state }

// Module returns the module whose subscriber or store step failed.
func (ce *CommitError) Module() string { return ce.module }

// RequestID returns the in-flight RPC/notification request ID, if any.
func (ce *CommitError) RequestID() string { return ce.requestID }

// NewCallbackFailedError builds the canonical callback_failed error that
// triggers the abort_notified branch of spec §4.G.
func NewCallbackFailedError(module string, cause error) *CommitError {
	return NewCommitError(cause, ErrorCodeCallbackFailed, "subscriber callback failed").
		WithState(CommitStateChangeNotify).
		WithModule(module)
}
