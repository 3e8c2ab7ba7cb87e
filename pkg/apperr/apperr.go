// Package apperr classifies the errors returned by the pool fund services.
//
// Every error that leaves a service carries a machine-readable Kind and a
// human-readable message. Storage adapters return classified errors too, so
// callers can tell a stale write (retryable) from a missing record.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the machine-readable error class.
type Kind string

const (
	KindValidation          Kind = "ValidationError"
	KindStateConflict       Kind = "StateConflictError"
	KindNotFound            Kind = "NotFoundError"
	KindConcurrencyConflict Kind = "ConcurrencyConflictError"
	KindDuplicate           Kind = "DuplicateError"
	KindInternal            Kind = "InternalError"
)

// Error is a classified error.
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

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation reports malformed or out-of-range input.
func Validation(format string, args ...any) error {
	return newf(KindValidation, format, args...)
}

// StateConflict reports an illegal lifecycle transition or a write against a
// record whose state forbids it.
func StateConflict(format string, args ...any) error {
	return newf(KindStateConflict, format, args...)
}

// NotFound reports a missing referenced record.
func NotFound(format string, args ...any) error {
	return newf(KindNotFound, format, args...)
}

// Conflict reports a stale read detected while writing. Retryable.
func Conflict(format string, args ...any) error {
	return newf(KindConcurrencyConflict, format, args...)
}

// Duplicate reports a unique-key violation.
func Duplicate(format string, args ...any) error {
	return newf(KindDuplicate, format, args...)
}

// Internal wraps an infrastructure failure.
func Internal(err error, format string, args ...any) error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the human-readable message of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// RetryOnConflict runs fn until it succeeds, fails with a kind other than
// KindConcurrencyConflict, or has been attempted attempts times. fn must
// re-read whatever state it validates on every call.
func RetryOnConflict(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Internal(ctxErr, "operation cancelled")
		}
		err = fn()
		if !Is(err, KindConcurrencyConflict) {
			return err
		}
	}
	return err
}
