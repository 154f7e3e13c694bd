package storage

import "errors"

// Errors returned by every CAS backend. Backends wrap them with %w so
// callers can test with errors.Is.
var (
	ErrNotFound    = errors.New("storage: not found")
	ErrInvalidCID  = errors.New("storage: invalid cid")
	ErrCIDMismatch = errors.New("storage: cid mismatch")
	// ErrImmutable means a different document already sits under the CID.
	ErrImmutable = errors.New("storage: immutable object mismatch")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsCorrupt reports whether err means stored bytes disagree with their CID.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCIDMismatch) || errors.Is(err, ErrImmutable)
}
