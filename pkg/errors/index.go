package errors

// IndexError provides specialized error handling for module-index
// operations (internal/modindex): install, remove, and lookup.
type IndexError struct {
	// Embed the base error to inherit all standard error functionality
	// including error chaining, structured details, and error codes.
	*baseError

	// key identifies which module name was being looked up when the
	// error occurred.
	key string

	// operation names the index operation being performed (e.g.
	// "Install", "Remove", "Module").
	operation string
}

// NewIndexError creates a new index-specific error with the provided context.
func NewIndexError(err error, code ErrorCode, msg string) *IndexError {
	return &IndexError{
		baseError: NewBaseError(err, code, msg),
	}
}

// Override base error methods to return *IndexError instead of *baseError.

func (ie *IndexError) WithMessage(msg string) *IndexError {
	ie.baseError.WithMessage(msg)
	return ie
}

func (ie *IndexError) WithCode(code ErrorCode) *IndexError {
	ie.baseError.WithCode(code)
	return ie
}

func (ie *IndexError) WithDetail(key string, value any) *IndexError {
	ie.baseError.WithDetail(key, value)
	return ie
}

// WithKey records which module name was being processed when the error
// occurred.
func (ie *IndexError) WithKey(key string) *IndexError {
	ie.key = key
	return ie
}

// WithOperation records what index operation was being performed.
func (ie *IndexError) WithOperation(operation string) *IndexError {
	ie.operation = operation
	return ie
}

// Key returns the module name that was being processed when the error
// occurred.
func (ie *IndexError) Key() string {
	return ie.key
}

// Operation returns the name of the operation that was being performed.
func (ie *IndexError) Operation() string {
	return ie.operation
}
