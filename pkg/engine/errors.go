package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an error by how it propagates through a run.
type ErrorKind string

const (
	// ErrorKindValidation indicates bad input caught before anything
	// executes: an unknown subsystem id in a filter, a malformed manifest, a
	// policy denial. Validation errors fail the whole invocation fast.
	ErrorKindValidation ErrorKind = "validation"

	// ErrorKindDomain indicates one subsystem's plan could not even be built,
	// typically because external state was unreadable. Recorded against the
	// subsystem; sibling subsystems still run.
	ErrorKindDomain ErrorKind = "domain"

	// ErrorKindItem indicates a single item within a plan failed. Recorded in
	// the item's outcome; sibling items still run.
	ErrorKindItem ErrorKind = "item"

	// ErrorKindState indicates the run-history or baseline store failed.
	ErrorKindState ErrorKind = "state"

	// ErrorKindInternal indicates a bug or an unexpected condition.
	ErrorKindInternal ErrorKind = "internal"
)

// Error is a classified engine error with subsystem and item context.
type Error struct {
	// Kind is the propagation classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Subsystem is the subsystem id this error belongs to, if any.
	Subsystem string `json:"subsystem,omitempty"`

	// Item is the item id this error belongs to, if any.
	Item string `json:"item,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`

	// Details carries additional context, such as policy violations.
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Subsystem != "" && e.Item != "":
		return fmt.Sprintf("[%s] %s (subsystem=%s, item=%s)%s",
			e.Kind, e.Message, e.Subsystem, e.Item, e.causeSuffix())
	case e.Subsystem != "":
		return fmt.Sprintf("[%s] %s (subsystem=%s)%s",
			e.Kind, e.Message, e.Subsystem, e.causeSuffix())
	default:
		return fmt.Sprintf("[%s] %s%s", e.Kind, e.Message, e.causeSuffix())
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) causeSuffix() string {
	if e.Err != nil {
		return ": " + e.Err.Error()
	}
	return ""
}

// Is implements equality for errors.Is: two engine errors match when kind and
// code agree.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// NewValidationError creates a validation error.
func NewValidationError(message string, err error) *Error {
	return &Error{Kind: ErrorKindValidation, Message: message, Err: err}
}

// NewDomainError creates a domain error.
func NewDomainError(message string, err error) *Error {
	return &Error{Kind: ErrorKindDomain, Message: message, Err: err}
}

// NewItemError creates an item error.
func NewItemError(message string, err error) *Error {
	return &Error{Kind: ErrorKindItem, Message: message, Err: err}
}

// NewStateError creates a state store error.
func NewStateError(message string, err error) *Error {
	return &Error{Kind: ErrorKindState, Message: message, Err: err}
}

// NewInternalError creates an internal error.
func NewInternalError(message string, err error) *Error {
	return &Error{Kind: ErrorKindInternal, Message: message, Err: err}
}

// WithSubsystem adds subsystem context.
func (e *Error) WithSubsystem(id string) *Error {
	e.Subsystem = id
	return e
}

// WithItem adds item context.
func (e *Error) WithItem(id string) *Error {
	e.Item = id
	return e
}

// WithCode adds an error code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithDetail adds a detail field.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// IsValidation reports whether err is classified as a validation error.
func IsValidation(err error) bool {
	return kindOf(err) == ErrorKindValidation
}

// IsDomain reports whether err is classified as a domain error.
func IsDomain(err error) bool {
	return kindOf(err) == ErrorKindDomain
}

// IsItem reports whether err is classified as an item error.
func IsItem(err error) bool {
	return kindOf(err) == ErrorKindItem
}

// IsState reports whether err is classified as a state store error.
func IsState(err error) bool {
	return kindOf(err) == ErrorKindState
}

func kindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Common error codes.
const (
	ErrCodeUnknownSubsystem   = "UNKNOWN_SUBSYSTEM"
	ErrCodeDuplicateSubsystem = "DUPLICATE_SUBSYSTEM"
	ErrCodeManifest           = "MANIFEST_ERROR"
	ErrCodeExternalState      = "EXTERNAL_STATE"
	ErrCodeCommand            = "COMMAND_FAILED"
	ErrCodePolicyDenied       = "POLICY_DENIED"
	ErrCodeHook               = "HOOK_FAILED"
	ErrCodeStore              = "STORE_ERROR"
	ErrCodeInternal           = "INTERNAL_ERROR"
)
