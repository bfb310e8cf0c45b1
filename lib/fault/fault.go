// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error for handling decisions.
type Kind string

const (
	// KindValidation is malformed input or configuration. Recovered
	// locally: the item is skipped or a default is substituted.
	KindValidation Kind = "validation"

	// KindAuthentication means the vault rejected the credentials.
	// Fatal, never retried.
	KindAuthentication Kind = "authentication"

	// KindNetwork is a timeout or connectivity failure. Idempotent
	// calls retry a bounded number of times.
	KindNetwork Kind = "network"

	// KindResource is an exhausted local resource: disk space, the
	// instance lock. Fatal.
	KindResource Kind = "resource"

	// KindSecurity is an ownership, permission, or key-integrity
	// violation. Fatal and never downgraded to a warning.
	KindSecurity Kind = "security"

	// KindRateLimited means the vault call budget for the current
	// window is spent. Surfaced immediately, never queued.
	KindRateLimited Kind = "rate_limited"

	// KindFailure is any other failure of an external command.
	KindFailure Kind = "failure"
)

// Error is a classified error. Construct it with the kind-specific
// helpers rather than directly.
type Error struct {
	// Kind classifies the error.
	Kind Kind

	// Err is the underlying error with the human-readable message.
	Err error

	// Hint is an optional recovery suggestion for the operator.
	Hint string
}

func (e *Error) Error() string { return e.Err.Error() }

// Unwrap exposes the underlying error to errors.Is and errors.As.
func (e *Error) Unwrap() error { return e.Err }

// WithHint sets the recovery suggestion and returns e for chaining.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

func newError(kind Kind, format string, args []any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Validation creates a validation error.
func Validation(format string, args ...any) *Error {
	return newError(KindValidation, format, args)
}

// Authentication creates an authentication error.
func Authentication(format string, args ...any) *Error {
	return newError(KindAuthentication, format, args).
		WithHint("verify the vault token or sign in again, then rerun")
}

// Network creates a network error.
func Network(format string, args ...any) *Error {
	return newError(KindNetwork, format, args).
		WithHint("check connectivity to the vault service and retry")
}

// Resource creates a resource error.
func Resource(format string, args ...any) *Error {
	return newError(KindResource, format, args)
}

// Security creates a security error.
func Security(format string, args ...any) *Error {
	return newError(KindSecurity, format, args)
}

// RateLimited creates a rate-limit error.
func RateLimited(format string, args ...any) *Error {
	return newError(KindRateLimited, format, args).
		WithHint("wait for the rate window to pass and retry")
}

// Failure creates a generic failure.
func Failure(format string, args ...any) *Error {
	return newError(KindFailure, format, args)
}

// KindOf returns the kind of the first *Error in err's chain, or ""
// when err carries no classification.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return ""
}

// Is reports whether err's chain contains an *Error of kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HintOf returns the recovery hint of the first *Error in err's chain
// that has one.
func HintOf(err error) string {
	for err != nil {
		var classified *Error
		if !errors.As(err, &classified) {
			return ""
		}
		if classified.Hint != "" {
			return classified.Hint
		}
		err = classified.Err
	}
	return ""
}

// Retryable reports whether an idempotent operation that failed with
// err may be attempted again.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindFailure:
		return true
	default:
		return false
	}
}

// Fatal reports whether err must stop the run.
func Fatal(err error) bool {
	switch KindOf(err) {
	case KindAuthentication, KindResource, KindSecurity:
		return true
	default:
		return false
	}
}
