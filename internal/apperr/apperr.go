// Package apperr classifies failures so callers can decide between per-record
// recovery, surfacing to the caller, and logging-only.
package apperr

import (
	"errors"
	"fmt"
)

// Kind represents the class of a failure.
type Kind string

const (
	// KindMalformed is bad encoding or a missing required field in one record.
	KindMalformed Kind = "MALFORMED"
	// KindStoreUnavailable is a failed or timed-out event store call.
	KindStoreUnavailable Kind = "STORE_UNAVAILABLE"
	// KindNotification is a failed alert or report publish.
	KindNotification Kind = "NOTIFICATION"
	// KindBadRequest is a request rejected before any store access.
	KindBadRequest Kind = "BAD_REQUEST"
)

// Error is an application error carrying its Kind and the failing operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind and op. A nil err yields a message-only error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Malformed(op string, err error) error        { return New(KindMalformed, op, err) }
func StoreUnavailable(op string, err error) error { return New(KindStoreUnavailable, op, err) }
func Notification(op string, err error) error     { return New(KindNotification, op, err) }
func BadRequest(msg string) error                 { return New(KindBadRequest, msg, nil) }

// KindOf returns the Kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool { return err != nil && KindOf(err) == kind }
