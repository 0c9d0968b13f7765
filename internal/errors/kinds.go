// Package errors defines the error kinds shared across the service.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrUnknownJob is returned internally when a job id is not pending.
// Public cancellation reports it as a false result instead.
var ErrUnknownJob = stderrors.New("job is not pending")

// ValidationError reports bad client input. No job is created when one is returned.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for a field
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// CollaboratorError wraps a failure reported by an external system (mail relay, LLM provider).
type CollaboratorError struct {
	Collaborator string
	Err          error
}

// Error implements the error interface
func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Collaborator, e.Err)
}

// Unwrap returns the underlying cause
func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// NewCollaboratorError wraps err as a failure of the named collaborator
func NewCollaboratorError(collaborator string, err error) *CollaboratorError {
	return &CollaboratorError{Collaborator: collaborator, Err: err}
}

// IsValidation reports whether err is or wraps a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return stderrors.As(err, &ve)
}

// IsCollaborator reports whether err is or wraps a CollaboratorError
func IsCollaborator(err error) bool {
	var ce *CollaboratorError
	return stderrors.As(err, &ce)
}
