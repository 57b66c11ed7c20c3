// Package apperr provides the typed error kinds shared by the panel services.
//
// Services translate storage and transport failures into an *Error with a
// Kind at their boundary, so callers can branch with errors.Is:
//
//	if errors.Is(err, apperr.ErrAllocationConflict) {
//	    // retry with another allocation
//	}
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	cerr "github.com/cockroachdb/errors"
)

// Kind classifies an error for policy decisions
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindInsufficientCapacity
	KindAllocationUnavailable
	KindAllocationConflict
	KindDaemon
	KindNodeHasServers
	KindConflict
)

var kindNames = map[Kind]string{
	KindUnknown:               "unknown",
	KindValidation:            "validation",
	KindNotFound:              "not_found",
	KindInsufficientCapacity:  "insufficient_capacity",
	KindAllocationUnavailable: "allocation_unavailable",
	KindAllocationConflict:    "allocation_conflict",
	KindDaemon:                "daemon",
	KindNodeHasServers:        "node_has_servers",
	KindConflict:              "conflict",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the base error type for the panel core
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches sentinels by kind; a sentinel has no message
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Cause == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is
var (
	ErrValidation            = &Error{Kind: KindValidation}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrInsufficientCapacity  = &Error{Kind: KindInsufficientCapacity}
	ErrAllocationUnavailable = &Error{Kind: KindAllocationUnavailable}
	ErrAllocationConflict    = &Error{Kind: KindAllocationConflict}
	ErrDaemon                = &Error{Kind: KindDaemon}
	ErrNodeHasServers        = &Error{Kind: KindNodeHasServers}
)

// New creates an error of the given kind
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps cause with a kind, recording a stack trace on the cause
func Wrap(kind Kind, message string, cause error) *Error {
	if cause != nil {
		cause = cerr.WithStack(cause)
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Validation returns a validation error carrying a user-facing hint
func Validation(message, hint string) error {
	err := error(New(KindValidation, message))
	if hint != "" {
		err = cerr.WithHint(err, hint)
	}
	return err
}

// Hint returns the hints attached anywhere in err's chain
func Hint(err error) string {
	return cerr.FlattenHints(err)
}

// KindOf extracts the kind of the first *Error in err's chain
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// HTTPStatus maps an error to the status code the admin API responds with
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInsufficientCapacity, KindAllocationUnavailable:
		return http.StatusUnprocessableEntity
	case KindAllocationConflict, KindNodeHasServers, KindConflict:
		return http.StatusConflict
	case KindDaemon:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage returns the message of the first *Error in err's chain,
// without its cause. Other errors render in full.
func UserMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return err.Error()
}
