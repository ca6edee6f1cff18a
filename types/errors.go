package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so that the gateway can decide between an
// acknowledgment, a system notice or a silent no-op.
type ErrorKind string

const (
	KindAuthorization ErrorKind = "authorization"
	KindState         ErrorKind = "state"
	KindNotFound      ErrorKind = "not_found"
	KindPersistence   ErrorKind = "persistence"
	KindValidation    ErrorKind = "validation"
	KindDecryption    ErrorKind = "decryption"
	KindInternal      ErrorKind = "internal"
)

// Error is the error type returned by every chat operation.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: KindState}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

func newError(kind ErrorKind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

func NewAuthorizationError(op, format string, args ...interface{}) *Error {
	return newError(KindAuthorization, op, format, args...)
}

func NewStateError(op, format string, args ...interface{}) *Error {
	return newError(KindState, op, format, args...)
}

func NewNotFoundError(op, format string, args ...interface{}) *Error {
	return newError(KindNotFound, op, format, args...)
}

func NewValidationError(op, format string, args ...interface{}) *Error {
	return newError(KindValidation, op, format, args...)
}

// NewPersistenceError wraps a store failure.
func NewPersistenceError(op string, err error) *Error {
	return &Error{Kind: KindPersistence, Op: op, Message: "store unavailable", Err: err}
}

func NewDecryptionError(op string, err error) *Error {
	return &Error{Kind: KindDecryption, Op: op, Message: "decryption failed", Err: err}
}

// KindOf returns the kind of err, KindInternal for foreign errors and "" for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is a chat error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// PublicMessage is the text that may be shown to the client for err. Persistence
// and internal details stay in the server log.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal error"
	}
	if e.Kind == KindPersistence {
		return "could not save the change, please retry"
	}
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}
