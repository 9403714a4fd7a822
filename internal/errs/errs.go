// Package errs provides the structured error type shared across
// markdownkeeper: every fallible operation returns a *Error carrying a
// Kind, so callers can branch on classification without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the five outcomes the rest of the
// system reacts to differently.
type Kind string

const (
	// InputInvalid means the caller supplied a malformed argument; never
	// retry without changing the input.
	InputInvalid Kind = "INPUT_INVALID"
	// NotFound means the referenced entity does not exist.
	NotFound Kind = "NOT_FOUND"
	// ParseSoftFail means a single document failed to parse; the run
	// continues, the failure is logged and surfaced per-document.
	ParseSoftFail Kind = "PARSE_SOFT_FAIL"
	// StorageTransient means a storage operation failed in a way that may
	// succeed if retried (lock contention, timeout).
	StorageTransient Kind = "STORAGE_TRANSIENT"
	// StorageFatal means a storage operation failed in a way retries will
	// not fix (corruption, schema mismatch).
	StorageFatal Kind = "STORAGE_FATAL"
)

// Retryable reports whether operations of this kind are worth retrying.
func (k Kind) Retryable() bool {
	return k == StorageTransient
}

// Error is the structured error type returned by every markdownkeeper
// component.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Details map[string]string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap supports errors.Is/errors.As over the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by Kind, enabling errors.Is(err, errs.New(Kind, ...)).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithDetail attaches a key/value detail and returns the error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind around an existing error.
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Retryable reports whether err is a *Error whose Kind is retryable.
func Retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind.Retryable()
	}
	return false
}

// GetKind extracts the Kind of err, returning "" if err is not a *Error.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
