package kg

import (
	"errors"
	"fmt"
)

// NotFoundError reports a referenced entity or relation that does not exist.
type NotFoundError struct {
	Kind string // "entity" or "relation"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ValidationError reports a malformed creation or query payload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IndexError reports a search-index failure. Index failures on the write path
// never fail the durable mutation; they are logged and surfaced through
// HealthCheck instead.
type IndexError struct {
	Op  string
	Err error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index %s: %v", e.Op, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

// TraversalError reports an unexpected storage failure mid-walk.
type TraversalError struct {
	StartID string
	Err     error
}

func (e *TraversalError) Error() string {
	return fmt.Sprintf("traversal from %q failed: %v", e.StartID, e.Err)
}

func (e *TraversalError) Unwrap() error { return e.Err }
