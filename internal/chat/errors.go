package chat

import (
	"errors"
	"fmt"

	"realtime-chat/internal/storage"
)

// Kind classifies failures the transport turns into structured responses
type Kind int

const (
	Unavailable Kind = iota
	NotFound
	Forbidden
	InvalidOperation
	Conflict
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case Forbidden:
		return "Forbidden"
	case InvalidOperation:
		return "InvalidOperation"
	case Conflict:
		return "Conflict"
	default:
		return "Unavailable"
	}
}

// Error is a typed failure of a chat operation
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrForbidden) works for every forbidden failure
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound         = &Error{Kind: NotFound}
	ErrForbidden        = &Error{Kind: Forbidden}
	ErrInvalidOperation = &Error{Kind: InvalidOperation}
	ErrConflict         = &Error{Kind: Conflict}
	ErrUnavailable      = &Error{Kind: Unavailable}
)

func newError(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, errors that are not *Error count as Unavailable
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unavailable
}

// fromStore translates storage failures, anything unknown is reported as the store being unavailable
func fromStore(err error) error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return err
	}

	switch {
	case errors.Is(err, storage.ErrChatNotExist):
		return &Error{Kind: NotFound, Message: "Chat does not exist", Err: err}
	case errors.Is(err, storage.ErrUserNotExist):
		return &Error{Kind: NotFound, Message: "User does not exist", Err: err}
	case errors.Is(err, storage.ErrMessageNotExist):
		return &Error{Kind: NotFound, Message: "Message does not exist", Err: err}
	case errors.Is(err, storage.ErrUserNotChatMember):
		return &Error{Kind: Forbidden, Message: "User is not chat member", Err: err}
	case errors.Is(err, storage.ErrMessageNotOwned):
		return &Error{Kind: Forbidden, Message: "Message belongs to another user", Err: err}
	case errors.Is(err, storage.ErrChatBadUsers):
		return &Error{Kind: InvalidOperation, Message: "Bad user list", Err: err}
	case errors.Is(err, storage.ErrChatExists):
		return &Error{Kind: Conflict, Message: "Chat already exists", Err: err}
	default:
		return &Error{Kind: Unavailable, Message: "Store is unavailable", Err: err}
	}
}
