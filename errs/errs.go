// Package errs defines the typed errors returned by the form services.
// Error codes are string-based for debuggability and natural JSON serialization;
// the HTTP layer translates them into status codes.
package errs

import (
	"errors"
	"fmt"
)

type Code string

const (
	// CodeNotFound indicates a requested form, version, response or history
	// entry does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodeValidation indicates structural or answer validation failed, or a
	// translation overlay targets a language the form does not support.
	CodeValidation Code = "VALIDATION_FAILED"

	// CodeNoActiveVersion indicates a read or submission against a form that
	// has never had a version activated.
	CodeNoActiveVersion Code = "NO_ACTIVE_VERSION"

	// CodeConflict indicates a concurrent-modification collision that survived
	// the bounded internal retries, or a stale optimistic-lock write.
	CodeConflict Code = "CONFLICT"

	// CodeStateTransition indicates an illegal response status change.
	CodeStateTransition Code = "ILLEGAL_STATE_TRANSITION"

	// CodeUnsupportedLanguage indicates a strict-mode resolve of a language
	// with no overlay on the requested version.
	CodeUnsupportedLanguage Code = "UNSUPPORTED_LANGUAGE"

	// CodeInternal indicates an unexpected infrastructure failure.
	CodeInternal Code = "INTERNAL"
)

// Error carries a Code alongside a human-readable message and an optional
// wrapped cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func NotFound(kind string, id any) *Error {
	return New(CodeNotFound, "%s %v not found", kind, id)
}

func Validation(format string, args ...any) *Error {
	return New(CodeValidation, format, args...)
}

func NoActiveVersion(formID string) *Error {
	return New(CodeNoActiveVersion, "form %s has no active version", formID)
}

func Conflict(format string, args ...any) *Error {
	return New(CodeConflict, format, args...)
}

func StateTransition(from, to string) *Error {
	return New(CodeStateTransition, "cannot transition response from %s to %s", from, to)
}

func UnsupportedLanguage(lang string) *Error {
	return New(CodeUnsupportedLanguage, "no translation for language %q", lang)
}

func Internal(err error, format string, args ...any) *Error {
	return Wrap(CodeInternal, err, format, args...)
}

// CodeOf extracts the Code from err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
