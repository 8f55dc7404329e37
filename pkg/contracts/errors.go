package contracts

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable classification of a rejected call.
type ErrorKind string

// Error kinds, grouped by the taxonomy the station exposes to callers.
const (
	// Validation covers malformed input, rejected before anything is persisted.
	ErrKindValidation         ErrorKind = "VALIDATION"
	ErrKindVoteReasonTooLong  ErrorKind = "VOTE_REASON_TOO_LONG"
	ErrKindDuplicateRequest   ErrorKind = "DUPLICATE_REQUEST"
	ErrKindUnknownOperation   ErrorKind = "UNKNOWN_OPERATION"
	ErrKindUnknownResource    ErrorKind = "UNKNOWN_RESOURCE"

	// Authorization failures are rejected before any state change.
	ErrKindForbidden          ErrorKind = "FORBIDDEN"
	ErrKindApprovalNotAllowed ErrorKind = "APPROVAL_NOT_ALLOWED"

	// Conflict means the call is valid but the target cannot accept it.
	ErrKindNotFound               ErrorKind = "NOT_FOUND"
	ErrKindNotAllowedModification ErrorKind = "NOT_ALLOWED_MODIFICATION"

	// Consistency marks invariant violations surfaced to operators, never swallowed.
	ErrKindConsistency ErrorKind = "CONSISTENCY_FAULT"
)

// Error is the structured error every rejected call returns: a
// machine-readable kind, a human-readable message, and an optional
// detail map (e.g. {"max_len": "200"}).
type Error struct {
	Kind    ErrorKind         `json:"kind"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s %v", e.Kind, e.Message, e.Details)
}

// NewError builds a structured error without details.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithDetail attaches a detail entry and returns the error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// KindOf extracts the ErrorKind from err, unwrapping as needed.
// Returns empty string for errors that are not structured station errors.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// Common sentinels shared across repositories.
var (
	// ErrNotFound is returned when a store lookup misses.
	ErrNotFound = errors.New("not found")
)
