package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies an error into the stable taxonomy the collaborator maps to
// HTTP statuses. The core never formats user-facing messages; it attaches a
// Kind and lets the caller decide presentation.
type Kind string

const (
	// Input errors.
	KindInvalidArg      Kind = "invalid_argument"
	KindPathEscape      Kind = "path_escape"
	KindCrossMount      Kind = "cross_mount"
	KindQuotaExceeded   Kind = "quota_exceeded"
	KindUniqueViolation Kind = "unique_violation"
	KindNotFound        Kind = "not_found"

	// Auth errors.
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindTokenExpired    Kind = "token_expired"
	KindTokenRevoked    Kind = "token_revoked"
	KindRateLimited     Kind = "rate_limited"

	// Controller errors.
	KindControllerFailed   Kind = "controller_failed"
	KindPreconditionFailed Kind = "precondition_failed"
	KindUnsupportedOp      Kind = "unsupported_op"

	// Platform errors.
	KindNotAvailable     Kind = "not_available"
	KindPermissionDenied Kind = "permission_denied"
	KindTimeout          Kind = "timeout"
	KindIO               Kind = "io"
	KindParse            Kind = "parse"

	// Internal errors.
	KindCorrupted Kind = "corrupted"
	KindBug       Kind = "bug"
)

// Error carries a Kind, the operation that failed, and an optional cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, errdefs.E(kind, ...)) match on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// E builds an error of the given kind. Optional args may include one string
// (the operation) and one error (the cause), in any order.
func E(kind Kind, args ...interface{}) error {
	e := &Error{Kind: kind}
	for _, a := range args {
		switch v := a.(type) {
		case string:
			e.Op = v
		case error:
			e.Err = v
		}
	}
	return e
}

// Errorf builds an error of the given kind with a formatted cause.
func Errorf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches op and kind to err; nil in, nil out.
func Wrap(err error, kind Kind, op string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf walks the wrap chain and returns the first Kind found, or "" when
// the error carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether any error in the chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
