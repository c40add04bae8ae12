package shared

import "errors"

// Error taxonomy shared by the billing packages. Package level errors wrap one of these so
// transports can classify a failure with errors.Is while keeping the specific message.
var (
	// ErrValidation marks malformed input rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrConflict marks an operation rejected by the current state of a record.
	ErrConflict = errors.New("state conflict")
	// ErrNotFound marks a reference that does not resolve under the school scope.
	ErrNotFound = errors.New("not found")
	// ErrConfiguration marks missing tenant setup such as chart of accounts roles.
	ErrConfiguration = errors.New("configuration error")
)
