package errors

// LockError is a specialized error type for module lock-coordinator failures:
// acquisition timeouts and in-use refusals raised by internal/lockcoord and
// internal/modindex. It embeds baseError the same way StorageError and
// ValidationError do, carrying the module/datastore/mode context needed to
// diagnose a contended or misordered lock acquisition.
type LockError struct {
	*baseError

	module    string
	datastore string
	mode      string // "read" or "write"
	retries   int
}

// NewLockError creates a new lock-specific error with the provided context.
func NewLockError(err error, code ErrorCode, msg string) *LockError {
	return &LockError{baseError: NewBaseError(err, code, msg)}
}

// WithMessage updates the error message while maintaining the LockError type.
func (le *LockError) WithMessage(msg string) *LockError {
	le.baseError.WithMessage(msg)
	return le
}

// WithCode sets the error code while preserving the LockError type.
func (le *LockError) WithCode(code ErrorCode) *LockError {
	le.baseError.WithCode(code)
	return le
}

// WithDetail adds contextual information while maintaining the LockError type.
func (le *LockError) WithDetail(key string, value any) *LockError {
	le.baseError.WithDetail(key, value)
	return le
}

// WithModule records which module's lock acquisition failed.
func (le *LockError) WithModule(name string) *LockError {
	le.module = name
	return le
}

// WithDatastore records which datastore's control block was involved.
func (le *LockError) WithDatastore(ds string) *LockError {
	le.datastore = ds
	return le
}

// WithMode records whether a read or write lock was being sought.
func (le *LockError) WithMode(mode string) *LockError {
	le.mode = mode
	return le
}

// WithRetries records how many applying_changes back-off retries were spent
// before this error was raised.
func (le *LockError) WithRetries(n int) *LockError {
	le.retries = n
	return le
}

// Module returns the module name associated with the failed acquisition.
func (le *LockError) Module() string { return le.module }

// Datastore returns the datastore kind associated with the failed acquisition.
func (le *LockError) Datastore() string { return le.datastore }

// Mode returns "read" or "write", whichever mode was being sought.
func (le *LockError) Mode() string { return le.mode }

// Retries returns the number of back-off retries spent before failing.
func (le *LockError) Retries() int { return le.retries }

// NewLockTimeoutError builds the canonical timed_out error for an exhausted
// lock-acquisition deadline.
func NewLockTimeoutError(module, datastore, mode string, retries int) *LockError {
	return NewLockError(nil, ErrorCodeTimedOut, "timed out acquiring module lock").
		WithModule(module).WithDatastore(datastore).WithMode(mode).WithRetries(retries)
}

// NewModuleInUseError builds the canonical in_use error for module removal
// refused because dependency edges or live sessions still reference it.
func NewModuleInUseError(module string) *LockError {
	return NewLockError(nil, ErrorCodeInUse, "module is still referenced").WithModule(module)
}
