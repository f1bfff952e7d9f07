// Package syncerr classifies errors crossing the sync boundary so callers can
// decide between retrying, surfacing and giving up.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind is the error class.
type Kind int

const (
	// Unknown is the zero kind; treated like Transient by retry logic.
	Unknown Kind = iota
	// Unauthenticated means the identity token was missing or invalid.
	Unauthenticated
	// PermissionDenied means the caller has no qualifying business membership.
	PermissionDenied
	// Validation means an action payload was malformed.
	Validation
	// Conflict means a scheduling overlap that only a human can resolve.
	Conflict
	// Transient means a network or server failure; retried with backoff.
	Transient
	// Fatal means local storage is unusable.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Unauthenticated:
		return "unauthenticated"
	case PermissionDenied:
		return "permission_denied"
	case Validation:
		return "validation"
	case Conflict:
		return "conflict"
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error carries a Kind alongside the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, syncerr.ErrTransient) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrUnauthenticated  = &Error{Kind: Unauthenticated}
	ErrPermissionDenied = &Error{Kind: PermissionDenied}
	ErrValidation       = &Error{Kind: Validation}
	ErrConflict         = &Error{Kind: Conflict}
	ErrTransient        = &Error{Kind: Transient}
	ErrFatal            = &Error{Kind: Fatal}
)

// New wraps err with a kind and operation name.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a kinded error from a format string.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Retryable reports whether an automatic retry could succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case Transient, Unknown:
		return err != nil
	}
	return false
}
