package confirm

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Kind classifies every failure of the confirmation protocol. Each kind maps
// to exactly one HTTP status so the courier app can render an accurate
// message, in particular "session reused" versus "session expired".
type Kind int

const (
	KindValidation Kind = iota // malformed or missing input, caller can correct
	KindUnauthorized           // session invalid, unverified, or reused
	KindNotFound               // referenced QR or session absent
	KindConflict               // QR already in a terminal state
	KindGone                   // session or QR expired, restart the scan flow
	KindStorage                // database or object storage failure
)

// Error is the explicit result type for every validation and state machine
// step. Failures are returned, never thrown.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusCode maps the error kind to its HTTP status.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindValidation:
		return fiber.StatusBadRequest
	case KindUnauthorized:
		return fiber.StatusUnauthorized
	case KindNotFound:
		return fiber.StatusNotFound
	case KindConflict:
		return fiber.StatusConflict
	case KindGone:
		return fiber.StatusGone
	default:
		return fiber.StatusInternalServerError
	}
}

// Code returns the machine-readable error identifier used in JSON bodies.
func (e *Error) Code() string {
	switch e.Kind {
	case KindValidation:
		return "validation_error"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindGone:
		return "gone"
	default:
		return "storage_failure"
	}
}

func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func WrapError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// AsError extracts a protocol error, wrapping anything unexpected as a
// storage failure so no failure path escapes the status mapping.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return WrapError(KindStorage, "unexpected error", err)
}
