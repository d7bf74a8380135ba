// Package errs defines the error taxonomy shared by the messaging core.
// Every operation failure is classified by a Kind so transport layers can
// map errors to status codes without string matching.
package errs

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindUnknown is the zero value for errors that were never classified.
	KindUnknown Kind = iota
	// KindUnauthenticated means the caller presented no valid identity.
	KindUnauthenticated
	// KindForbidden means the caller is authenticated but lacks
	// membership or ownership for the operation.
	KindForbidden
	// KindNotFound means a referenced channel, message or reaction is absent.
	KindNotFound
	// KindInvalidContent means a size, type or shape constraint was violated.
	KindInvalidContent
	// KindTransient means the store or a collaborator was unavailable and
	// the operation may succeed if retried.
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not found"
	case KindInvalidContent:
		return "invalid content"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Error carries a Kind, a caller-facing message and an optional cause.
type Error struct {
	Kind  Kind
	Msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.cause)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.cause
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error. The cause
// remains reachable through errors.Is/errors.As.
func Wrap(err error, kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, cause: err}
}

func Wrapf(err error, kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), cause: err}
}

// KindOf extracts the kind from an error chain. Unclassified errors
// report KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
