package domainerrors

import "errors"

// Code represents a domain error category independent of transport layer.
// These codes describe what went wrong in business logic terms, not HTTP terms.
type Code string

const (
	CodeNotFound           Code = "not_found"
	CodeBadRequest         Code = "bad_request"
	CodeInvalidInput       Code = "invalid_input"
	CodeValidation         Code = "validation_failed"
	CodeInternal           Code = "internal_error"
	CodeConflict           Code = "conflict"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeTimeout            Code = "timeout"
	CodeInvariantViolation Code = "invariant_violation"

	// Ledger program outcomes
	CodeInvalidState Code = "invalid_state" // transition not permitted from the current token or registry state
	CodeUnavailable  Code = "unavailable"   // ledger or external service unreachable; safe to retry only for idempotent calls
)

// Reason is a stable, machine-readable refinement of a Code.
// Clients branch on Code; Reason tells them which rule fired.
type Reason string

const (
	ReasonNotAdmin                 Reason = "not_admin"
	ReasonCallerMismatch           Reason = "caller_mismatch"
	ReasonNotAuthorizedEmployer    Reason = "not_authorized_employer"
	ReasonNotAuthorizedInstitution Reason = "not_authorized_institution"
	ReasonNoSuchRequest            Reason = "no_such_request"
	ReasonAlreadyApproved          Reason = "already_approved"
	ReasonAlreadyRegistered        Reason = "already_registered"
	ReasonUnknownInstitution       Reason = "unknown_institution"
	ReasonUnknownToken             Reason = "unknown_token"
	ReasonDuplicateUsername        Reason = "duplicate_username"
	ReasonInvalidCredentials       Reason = "invalid_credentials"
	ReasonReconciliationPending    Reason = "reconciliation_pending"
	ReasonNameTaken                Reason = "name_taken"
)

// Error wraps domain or infrastructure failures with a stable code.
// It is transport-agnostic and can be used across service, store, and other layers.
type Error struct {
	Code    Code
	Reason  Reason
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// Unwrap implements error unwrapping for error chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is enables errors.Is() to match errors by code.
// A target carrying a Reason additionally requires the reason to match.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Reason != "" && e.Reason != t.Reason {
		return false
	}
	return e.Code == t.Code
}

// New creates a new domain error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// WithReason creates a new domain error carrying a stable reason.
func WithReason(code Code, reason Reason, msg string) error {
	return &Error{Code: code, Reason: reason, Message: msg}
}

// Wrap creates a new domain error wrapping an existing error.
// If the wrapped error is already a domain error, the original code and reason are preserved.
func Wrap(err error, code Code, msg string) error {
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Code: existing.Code, Reason: existing.Reason, Message: msg, Err: err}
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode checks if an error is a domain error with the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// HasReason checks if an error is a domain error with the given reason.
func HasReason(err error, reason Reason) bool {
	return ReasonOf(err) == reason
}

// CodeOf returns the code of the outermost domain error, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// ReasonOf returns the reason of the outermost domain error, or "".
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}
