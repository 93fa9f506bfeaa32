package service

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies errors surfaced by the gateway.
type Kind string

const (
	KindInvalidInput        Kind = "invalid_input"
	KindForbidden           Kind = "forbidden"
	KindRateLimited         Kind = "rate_limited"
	KindCollaboratorFailure Kind = "collaborator_failure"
)

// Error is returned for every rejected or failed operation.
type Error struct {
	Kind    Kind
	Message string
	// RetryAfterSeconds is set for KindRateLimited only.
	RetryAfterSeconds int
	Err               error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Programmer errors: the caller asked for something that can never succeed.
var (
	ErrInvalidCost       = errors.New("cost must be positive")
	ErrUnknownQuotaClass = errors.New("unknown quota class")
	ErrUnknownOperation  = errors.New("unknown operation")
)

// NewError creates a new error
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func invalidInput(err error, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...), Err: err}
}

func rateLimited(retryAfter int) *Error {
	return &Error{
		Kind:              KindRateLimited,
		Message:           fmt.Sprintf("rate limit exceeded, try again in %d seconds", retryAfter),
		RetryAfterSeconds: retryAfter,
	}
}

func collaboratorFailure(name string, err error) *Error {
	return &Error{Kind: KindCollaboratorFailure, Message: name + " failed", Err: err}
}

// errCallerGone marks a collaborator error caused by the caller's own context ending
// (disconnect or the caller's deadline), as opposed to the collaborator timeout.
type errCallerGone struct{ err error }

func (e errCallerGone) Error() string { return e.err.Error() }
func (e errCallerGone) Unwrap() error { return e.err }

// CollaboratorFault reports whether err says something about the collaborator's health.
// Caller disconnects, cancellations and errors that blame the request (a collaborator
// error with a CallerFault() method returning true, e.g. a 4xx reply) do not.
func CollaboratorFault(err error) bool {
	if err == nil {
		return false
	}
	var gone errCallerGone
	if errors.As(err, &gone) || errors.Is(err, context.Canceled) {
		return false
	}
	var cf interface{ CallerFault() bool }
	if errors.As(err, &cf) && cf.CallerFault() {
		return false
	}
	return true
}

// KindOf returns the Kind of err, or "" if err did not come from this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// RetryAfter returns the retry hint carried by a rate-limit error.
func RetryAfter(err error) (int, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindRateLimited {
		return e.RetryAfterSeconds, true
	}
	return 0, false
}
