package errors

// ErrorCode represents a standardized way to categorize different types of errors.
type ErrorCode string

// Base error codes represent the fundamental categories of failures that can
// occur across any software system. These codes provide the foundation layer
// of error classification.
const (
	// ErrorCodeIO represents failures in input/output operations across any
	// system boundary. This includes file system operations like reading or
	// writing segment files, network operations when communicating with remote
	// systems, and device I/O when accessing storage hardware.
	ErrorCodeIO ErrorCode = "IO_ERROR"

	// ErrorCodeInvalidInput represents client-side errors where the provided
	// data doesn't meet the system's requirements or constraints. This maps
	// to HTTP 400-series errors and indicates problems with the request itself
	// rather than system failures.
	ErrorCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// ErrorCodeInternal represents unexpected system failures that don't fit
	// into other categories. These are the equivalent of HTTP 500 errors and
	// indicate bugs, assertion failures, or other programming errors that
	// shouldn't occur during normal operation.
	ErrorCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Storage-specific error codes extend the base error taxonomy to handle the
// unique failure modes that occur in persistent storage systems. These codes
// represent problems that are specific to the storage layer of your key-value
// store, particularly focusing on segment file management and data persistence.
const (
	// ErrorCodeSegmentCorrupted indicates that the shared segment's header
	// failed validation on attach (bad magic or unsupported version).
	ErrorCodeSegmentCorrupted ErrorCode = "SEGMENT_CORRUPTED"

	// ErrorCodePermissionDenied indicates insufficient permissions to access a resource.
	// This is distinct from generic IO errors because it has a specific resolution path:
	// the user needs to adjust file/directory permissions or run with elevated privileges.
	ErrorCodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// ErrorCodeDiskFull indicates that the storage device has run out of space.
	// This requires specific handling like cleanup operations or alerting administrators.
	ErrorCodeDiskFull ErrorCode = "DISK_FULL"

	// ErrorCodeFilesystemReadonly indicates that the filesystem is mounted read-only.
	// This requires administrative intervention to remount the filesystem with write permissions.
	ErrorCodeFilesystemReadonly ErrorCode = "FILESYSTEM_READONLY"
)

// Datastore error codes correspond directly to the error taxonomy carried by
// the module index, lock coordinator, validator and commit pipeline: ok,
// invalid_argument, not_found, in_use, timed_out, resource_exhausted,
// validation_failed, callback_failed, internal.
const (
	// ErrorCodeNotFound indicates a lookup (module, subscription, record) found
	// nothing at the given name or offset.
	ErrorCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrorCodeInUse indicates an operation was refused because some other
	// entity (a dependency edge, a live session) still references the target.
	ErrorCodeInUse ErrorCode = "IN_USE"

	// ErrorCodeTimedOut indicates a bounded wait (lock acquisition,
	// applying_changes back-off) exceeded its deadline.
	ErrorCodeTimedOut ErrorCode = "TIMED_OUT"

	// ErrorCodeResourceExhausted indicates the shared segment could not grow
	// to satisfy an allocation.
	ErrorCodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"

	// ErrorCodeValidationFailed indicates the schema library rejected the
	// forest under validation; carried by *SchemaValidationError.
	ErrorCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// ErrorCodeCallbackFailed indicates a subscriber callback returned a
	// non-ok status during CHANGE notification, triggering the abort branch.
	ErrorCodeCallbackFailed ErrorCode = "CALLBACK_FAILED"
)
