package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a business failure.
type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindNotFound          Kind = "not_found"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindLimitExceeded     Kind = "limit_exceeded"
	KindAccountInactive   Kind = "account_inactive"
	KindStateConflict     Kind = "state_conflict"
	KindConflict          Kind = "conflict"
	KindAlreadyDecided    Kind = "already_decided"
	KindCapacityExceeded  Kind = "capacity_exceeded"
	KindNotEligible       Kind = "not_eligible"
	KindAlreadyProcessed  Kind = "already_processed"
	KindSelfTransfer      Kind = "self_transfer"
	KindForbidden         Kind = "forbidden"
)

// Error is a classified business error. Two errors match under errors.Is when
// their kinds match; Conflict and AlreadyDecided also match StateConflict.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is implements errors.Is matching by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return t.Kind == KindStateConflict && (e.Kind == KindConflict || e.Kind == KindAlreadyDecided)
}

// Sentinels for errors.Is checks.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds}
	ErrLimitExceeded     = &Error{Kind: KindLimitExceeded}
	ErrAccountInactive   = &Error{Kind: KindAccountInactive}
	ErrStateConflict     = &Error{Kind: KindStateConflict}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrAlreadyDecided    = &Error{Kind: KindAlreadyDecided}
	ErrCapacityExceeded  = &Error{Kind: KindCapacityExceeded}
	ErrNotEligible       = &Error{Kind: KindNotEligible}
	ErrAlreadyProcessed  = &Error{Kind: KindAlreadyProcessed}
	ErrSelfTransfer      = &Error{Kind: KindSelfTransfer}
	ErrForbidden         = &Error{Kind: KindForbidden}
)

// New returns a classified error with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) error {
	return New(KindValidation, format, args...)
}

func NotFound(format string, args ...any) error {
	return New(KindNotFound, format, args...)
}

// KindOf returns the kind of err, or "" for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
