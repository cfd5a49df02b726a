package apperr

import (
	"errors"
	"fmt"
)

// ErrCode is a typed error code enum for consistent error identification.
type ErrCode string

const (
	// ─── Exam load ─────────────────────────────────────────────────────
	ErrParse ErrCode = "PARSE_ERROR"

	// ─── Input ─────────────────────────────────────────────────────────
	ErrValidation ErrCode = "VALIDATION_ERROR"

	// ─── Delivery ──────────────────────────────────────────────────────
	ErrTransport   ErrCode = "TRANSPORT_ERROR"
	ErrPersistence ErrCode = "PERSISTENCE_ERROR"

	// ─── Lobby ─────────────────────────────────────────────────────────
	ErrExamNotAvailable ErrCode = "EXAM_NOT_AVAILABLE"
	ErrAlreadyAttempted ErrCode = "ALREADY_ATTEMPTED"
)

// Error carries a code, the operation that failed and the cause.
type Error struct {
	Code ErrCode
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a code. A nil err still produces an error.
func New(code ErrCode, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// Is reports whether any error in err's chain carries the given code.
func Is(err error, code ErrCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code of the first *Error in the chain, or "".
func CodeOf(err error) ErrCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	case ErrParse:
		return "The exam paper could not be read. No valid questions were found."
	case ErrValidation:
		return "Invalid input. Please try again."
	case ErrTransport:
		return "Could not reach the exam server."
	case ErrPersistence:
		return "Could not update the local answer backup."
	case ErrExamNotAvailable:
		return "This exam is not available right now."
	case ErrAlreadyAttempted:
		return "You have already attempted this exam. Reattempt is not allowed."
	default:
		return "An unexpected error occurred."
	}
}
