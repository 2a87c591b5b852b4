package model

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Category groups error kinds the way the UI reports them.
type Category string

const (
	CategoryProvider   Category = "provider"
	CategoryValidation Category = "validation"
	CategoryLifecycle  Category = "lifecycle"
	CategoryStorage    Category = "storage"
)

// Kind identifies a failure class.
type Kind string

// Provider kinds
const (
	KindRateLimited    Kind = "RateLimited"
	KindUnauthorized   Kind = "Unauthorized"
	KindInvalidRequest Kind = "InvalidRequest"
	KindTransient      Kind = "Transient"
	KindTimeout        Kind = "Timeout"
	KindCanceled       Kind = "Canceled"
	KindUnavailable    Kind = "Unavailable"
)

// Validation kinds
const (
	KindEmptyResponse      Kind = "EmptyResponse"
	KindInvalidShape       Kind = "InvalidShape"
	KindInvariantViolation Kind = "InvariantViolation"
)

// Lifecycle kinds
const (
	KindLocked             Kind = "Locked"
	KindBusy               Kind = "Busy"
	KindGatePredicateUnmet Kind = "GatePredicateUnmet"
)

// Storage kinds
const (
	KindQuota    Kind = "Quota"
	KindNotFound Kind = "NotFound"
	KindCorrupt  Kind = "Corrupt"
)

var kindCategories = map[Kind]Category{
	KindRateLimited:        CategoryProvider,
	KindUnauthorized:       CategoryProvider,
	KindInvalidRequest:     CategoryProvider,
	KindTransient:          CategoryProvider,
	KindTimeout:            CategoryProvider,
	KindCanceled:           CategoryProvider,
	KindUnavailable:        CategoryProvider,
	KindEmptyResponse:      CategoryValidation,
	KindInvalidShape:       CategoryValidation,
	KindInvariantViolation: CategoryValidation,
	KindLocked:             CategoryLifecycle,
	KindBusy:               CategoryLifecycle,
	KindGatePredicateUnmet: CategoryLifecycle,
	KindQuota:              CategoryStorage,
	KindNotFound:           CategoryStorage,
	KindCorrupt:            CategoryStorage,
}

// Category returns the taxonomy group of the kind.
func (k Kind) Category() Category {
	return kindCategories[k]
}

// Retryable reports whether the retry policy applies to the kind.
func (k Kind) Retryable() bool {
	switch k {
	case KindTransient, KindRateLimited, KindTimeout, KindUnavailable:
		return true
	}
	return false
}

// Error is the typed failure carried through every layer of the studio.
type Error struct {
	Kind        Kind
	Message     string
	Retryable   bool
	RetryAfter  time.Duration
	TaskID      string
	Fingerprint string
	Cause       error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.TaskID != "" {
		msg = fmt.Sprintf("%s (task %s)", msg, e.TaskID)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates an error of the given kind.
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
		Retryable: kind.Retryable(),
	}
}

// WrapError attaches a kind to an underlying cause.
func WrapError(kind Kind, cause error, format string, args ...interface{}) *Error {
	e := NewError(kind, format, args...)
	e.Cause = cause
	return e
}

// WithTask returns a copy of err annotated with task diagnostics.
func WithTask(err error, taskID, fingerprint string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		cp := *e
		cp.TaskID = taskID
		cp.Fingerprint = fingerprint
		return &cp
	}
	return &Error{Kind: KindOf(err), Message: err.Error(), TaskID: taskID, Fingerprint: fingerprint, Cause: err}
}

// KindOf classifies any error into the taxonomy. Unknown errors are Transient.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindTransient
}

// IsKind reports whether err classifies as kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether the user may retry the failed operation.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return KindOf(err).Retryable()
}

// RetryAfterOf returns the provider retry hint carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}
