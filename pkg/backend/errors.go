package backend

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes backend failures. Classification happens once, at the
// adapter boundary, so callers never inspect raw provider error text.
type ErrorKind string

const (
	KindQuotaExceeded ErrorKind = "quota_exceeded"
	KindAuth          ErrorKind = "auth"
	KindModelNotFound ErrorKind = "model_not_found"
	KindUnavailable   ErrorKind = "unavailable"
	KindInternal      ErrorKind = "internal"
)

// Error is a classified backend failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("backend: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("backend: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// KindOf extracts the classified kind from err, or KindInternal when err is
// not a backend error.
func KindOf(err error) ErrorKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindInternal
}
