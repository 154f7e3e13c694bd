package bagit

import (
	"errors"
	"fmt"
)

// Kind is a stable category for programmatic error handling.
type Kind string

const (
	KindIO                   Kind = "IO"
	KindInvalidStructure     Kind = "InvalidStructure"
	KindChecksumMismatch     Kind = "ChecksumMismatch"
	KindMissingFile          Kind = "MissingFile"
	KindInvalidManifest      Kind = "InvalidManifest"
	KindUnsupportedAlgorithm Kind = "UnsupportedAlgorithm"
	KindInvalidDeclaration   Kind = "InvalidDeclaration"
	KindEncoding             Kind = "Encoding"
	KindFileNotFound         Kind = "FileNotFound"
)

// ErrNotListed is returned by Lookup and VerifyListed when no manifest of the
// requested algorithm lists the file.
var ErrNotListed = errors.New("bagit: file not listed in manifest")

// Error is the package's structured error type.
//
// Path names the bag-relative file involved, when there is one. Checksum
// mismatches wrap a *checksum.MismatchError.
type Error struct {
	Kind    Kind
	Path    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := "bagit: " + e.Message
	if e.Path != "" {
		msg = fmt.Sprintf("bagit: %s: %s", e.Message, e.Path)
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

func newError(kind Kind, path, msg string) error {
	return &Error{Kind: kind, Path: path, Message: msg}
}

func wrapError(kind Kind, path, msg string, cause error) error {
	return &Error{Kind: kind, Path: path, Message: msg, Cause: cause}
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
