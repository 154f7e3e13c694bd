package fetch

import (
	"errors"
	"fmt"
)

// Kind is a stable category for programmatic error handling.
//
// Callers should branch on Kind rather than matching error strings. Use
// errors.As to extract *Error for structured handling.
type Kind string

const (
	KindNotFound          Kind = "NotFound"
	KindInvalidIdentifier Kind = "InvalidIdentifier"
	KindTransport         Kind = "Transport"
	KindIO                Kind = "IO"
	KindParse             Kind = "Parse"
	KindChecksumMismatch  Kind = "ChecksumMismatch"
	KindHeaderDecoding    Kind = "HeaderDecoding"
)

// Attempt records why one remote strategy did not produce a crate.
type Attempt struct {
	Strategy Strategy
	Err      error
}

// Error is the package's structured error type.
//
// Locator is the identifier being resolved. A NotFound error from the remote
// chain lists every failed strategy in Attempts. Checksum mismatches wrap a
// *checksum.MismatchError.
type Error struct {
	Kind     Kind
	Locator  string
	Message  string
	Cause    error
	Attempts []Attempt
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if e.Locator != "" {
		msg = fmt.Sprintf("%s `%s`", e.Message, e.Locator)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func newError(kind Kind, locator, msg string) error {
	return &Error{Kind: kind, Locator: locator, Message: msg}
}

func wrapError(kind Kind, locator, msg string, cause error) error {
	if cause == nil {
		return newError(kind, locator, msg)
	}
	return &Error{Kind: kind, Locator: locator, Message: msg, Cause: cause}
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the Kind of the outermost *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}

// errSkipped marks a strategy that had nothing to work with. It is not
// recorded as an attempt.
var errSkipped = errors.New("fetch: strategy skipped")
