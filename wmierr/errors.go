// Package wmierr defines the error taxonomy shared by every go-wmicore package.
//
// Every public operation fails with exactly one Kind. Callers branch on the
// kind with errors.Is against the sentinel values, or extract the structured
// *Error with errors.As to read the operation and the protocol status code:
//
//	rows, err := s.Execute(ctx, "SELECT Name FROM Win32_Service", 30*time.Second)
//	if errors.Is(err, wmierr.ErrTimeout) {
//		// retry later
//	}
//
//	var werr *wmierr.Error
//	if errors.As(err, &werr) && werr.Code != 0 {
//		log.Printf("status 0x%08X", werr.Code)
//	}
package wmierr

import (
	"errors"
	"fmt"
)

// Kind categorizes a failure.
type Kind string

const (
	// KindInvalidArgument indicates a missing or malformed caller argument.
	KindInvalidArgument Kind = "INVALID_ARGUMENT"
	// KindInvalidState indicates an operation on a closed session.
	KindInvalidState Kind = "INVALID_STATE"
	// KindQuerySyntax indicates query text rejected locally or by the server.
	KindQuerySyntax Kind = "QUERY_SYNTAX"
	// KindTimeout indicates an exhausted time budget.
	KindTimeout Kind = "TIMEOUT"
	// KindProtocol indicates a failed native protocol call.
	KindProtocol Kind = "PROTOCOL"
	// KindFormat indicates a value that does not match its declared format.
	KindFormat Kind = "FORMAT"
	// KindIllegalState indicates the calling thread cannot use the protocol library.
	KindIllegalState Kind = "ILLEGAL_STATE"
)

var (
	// ErrInvalidArgument matches any error of KindInvalidArgument.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidState matches any error of KindInvalidState.
	ErrInvalidState = errors.New("invalid state")
	// ErrQuerySyntax matches any error of KindQuerySyntax.
	ErrQuerySyntax = errors.New("invalid query")
	// ErrTimeout matches any error of KindTimeout.
	ErrTimeout = errors.New("timeout")
	// ErrProtocol matches any error of KindProtocol.
	ErrProtocol = errors.New("protocol error")
	// ErrFormat matches any error of KindFormat.
	ErrFormat = errors.New("format error")
	// ErrIllegalState matches any error of KindIllegalState.
	ErrIllegalState = errors.New("illegal state")
)

var sentinels = map[Kind]error{
	KindInvalidArgument: ErrInvalidArgument,
	KindInvalidState:    ErrInvalidState,
	KindQuerySyntax:     ErrQuerySyntax,
	KindTimeout:         ErrTimeout,
	KindProtocol:        ErrProtocol,
	KindFormat:          ErrFormat,
	KindIllegalState:    ErrIllegalState,
}

// Error is the structured error returned by go-wmicore operations.
type Error struct {
	// Kind identifies the failure category.
	Kind Kind

	// Op names the operation that failed (e.g. "ExecQuery").
	Op string

	// Message is a human-readable description.
	Message string

	// Code is the native status code, zero when none applies.
	Code uint32

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return t.Kind == e.Kind
	}
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// New returns an *Error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Newf returns an *Error of the given kind with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error of the given kind wrapping err.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// InvalidArgument returns a KindInvalidArgument error.
func InvalidArgument(op, format string, args ...any) *Error {
	return Newf(KindInvalidArgument, op, format, args...)
}

// InvalidState returns a KindInvalidState error.
func InvalidState(op, format string, args ...any) *Error {
	return Newf(KindInvalidState, op, format, args...)
}

// QuerySyntax returns a KindQuerySyntax error.
func QuerySyntax(op, format string, args ...any) *Error {
	return Newf(KindQuerySyntax, op, format, args...)
}

// Timeout returns a KindTimeout error.
func Timeout(op, message string) *Error {
	return New(KindTimeout, op, message)
}

// Format returns a KindFormat error.
func Format(op, format string, args ...any) *Error {
	return Newf(KindFormat, op, format, args...)
}

// Protocol returns a KindProtocol error carrying a native status code.
func Protocol(op string, code uint32, message string) *Error {
	return &Error{Kind: KindProtocol, Op: op, Message: message, Code: code}
}

// IllegalState returns a KindIllegalState error carrying a native status code.
func IllegalState(op string, code uint32, message string) *Error {
	return &Error{Kind: KindIllegalState, Op: op, Message: message, Code: code}
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the native status code carried by err, or zero.
func CodeOf(err error) uint32 {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// IsTimeout reports whether err is a timeout.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// IsQuerySyntax reports whether err is a query syntax error.
func IsQuerySyntax(err error) bool { return errors.Is(err, ErrQuerySyntax) }

// IsInvalidState reports whether err is an invalid-state error.
func IsInvalidState(err error) bool { return errors.Is(err, ErrInvalidState) }

// IsProtocol reports whether err is a protocol error.
func IsProtocol(err error) bool { return errors.Is(err, ErrProtocol) }
