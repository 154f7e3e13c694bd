package model

import (
	"context"
	"errors"
	"fmt"

	"rocrate.dev/rocrate/checksum"
	"rocrate.dev/rocrate/fetch"
	"rocrate.dev/rocrate/storage"
)

type ErrorCode string

const (
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"
	ErrInvalidIdentifier ErrorCode = "INVALID_IDENTIFIER"
	ErrNotFound          ErrorCode = "NOT_FOUND"
	ErrTransport         ErrorCode = "TRANSPORT"
	ErrIO                ErrorCode = "IO"
	ErrParse             ErrorCode = "PARSE"
	ErrChecksumMismatch  ErrorCode = "CHECKSUM_MISMATCH"
	ErrHeaderDecoding    ErrorCode = "HEADER_DECODING"
	ErrInternal          ErrorCode = "INTERNAL"
)

// CodedError is a stable error with a machine-readable code and a human message.
type CodedError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	// Locator is the identifier that failed, when there is one.
	Locator string `json:"locator,omitempty"`
}

func (e *CodedError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewError(code ErrorCode, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

var kindCodes = map[fetch.Kind]ErrorCode{
	fetch.KindNotFound:          ErrNotFound,
	fetch.KindInvalidIdentifier: ErrInvalidIdentifier,
	fetch.KindTransport:         ErrTransport,
	fetch.KindIO:                ErrIO,
	fetch.KindParse:             ErrParse,
	fetch.KindChecksumMismatch:  ErrChecksumMismatch,
	fetch.KindHeaderDecoding:    ErrHeaderDecoding,
}

// mapErr converts library errors into a *CodedError.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce
	}

	var fe *fetch.Error
	if errors.As(err, &fe) {
		code, ok := kindCodes[fe.Kind]
		if !ok {
			code = ErrInternal
		}
		out := &CodedError{Code: code, Message: err.Error(), Locator: fe.Locator}
		switch code {
		case ErrNotFound:
			out.Message = fmt.Sprintf("could not retrieve subcrate `%s`", fe.Locator)
		case ErrChecksumMismatch:
			var m *checksum.MismatchError
			if errors.As(err, &m) {
				out.Message = fmt.Sprintf("checksum mismatch for `%s`: expected %q, actual %q", m.Path, m.Expected, m.Actual)
			}
		}
		return out
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return NewError(ErrTransport, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		return NewError(ErrNotFound, err.Error())
	case errors.Is(err, storage.ErrInvalidCID):
		return NewError(ErrInvalidRequest, err.Error())
	}
	return NewError(ErrInternal, err.Error())
}
