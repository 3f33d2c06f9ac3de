// Package apperr defines the error taxonomy shared by every gatekeeper package.
//
// Domain packages declare their own sentinel errors with New, and callers
// classify them with errors.Is against the kind sentinels below:
//
//	var ErrSamePassword = apperr.New(apperr.KindValidation, "new password must differ from the current one")
//
//	errors.Is(err, apperr.ErrValidation) // true for ErrSamePassword, even when wrapped
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an error for transport mapping
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthenticated
	KindForbidden
	KindConflict
	KindNotFound
	KindInvalidToken
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindInvalidToken:
		return "invalid_token"
	default:
		return "internal"
	}
}

// HTTPStatus returns the status code a kind is surfaced with.
// Conflicts are reported as 400 to match the existing client contract.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindConflict, KindInvalidToken:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified error with a caller-safe message
type Error struct {
	Kind    Kind
	Message string
	// Fields lists field-level validation messages
	Fields []string

	sentinel bool
}

func (e *Error) Error() string {
	if len(e.Fields) > 0 {
		return e.Message + ": " + strings.Join(e.Fields, ", ")
	}
	return e.Message
}

// Is reports whether target is the kind sentinel for this error's kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.sentinel && t.Kind == e.Kind
}

// Kind sentinels, for use with errors.Is
var (
	ErrInternal        = &Error{Kind: KindInternal, Message: "internal error", sentinel: true}
	ErrValidation      = &Error{Kind: KindValidation, Message: "validation failed", sentinel: true}
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated, Message: "unauthenticated", sentinel: true}
	ErrForbidden       = &Error{Kind: KindForbidden, Message: "forbidden", sentinel: true}
	ErrConflict        = &Error{Kind: KindConflict, Message: "conflict", sentinel: true}
	ErrNotFound        = &Error{Kind: KindNotFound, Message: "not found", sentinel: true}
	ErrInvalidToken    = &Error{Kind: KindInvalidToken, Message: "invalid or expired token", sentinel: true}
)

// New creates a classified error
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a validation error carrying field-level messages
func Validation(fields ...string) *Error {
	return &Error{Kind: KindValidation, Message: "validation failed", Fields: fields}
}

// NotFound creates a not-found error for the named entity
func NotFound(entity string) *Error {
	return &Error{Kind: KindNotFound, Message: entity + " not found"}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// As returns the first *Error in err's chain
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
