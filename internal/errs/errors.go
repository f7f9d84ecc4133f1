// Package errs defines the error kinds that cross component boundaries in
// the reservation engine. Higher layers such as HTTP handlers use the kind
// to pick a status code, while the mutation orchestrator uses it to decide
// whether an error may reject the top-level operation or must be contained.
// Only Validation, Transport, AuthorizationDeclined and Ledger errors are
// allowed to surface to the caller of a mutation; CacheReconciliation
// errors are always caught locally and answered with a fallback
// invalidation.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error.
type Kind int

const (
	// KindValidation marks a request rejected before any network call,
	// typically a missing required identifier. Never retried.
	KindValidation Kind = iota
	// KindTransport marks a request that could not be sent or whose
	// response body was malformed. Surfaced to the caller, not retried
	// by the engine.
	KindTransport
	// KindAuthorizationDeclined marks an authorization ceremony that was
	// cancelled, blocked or explicitly failed. Carries a stable code.
	KindAuthorizationDeclined
	// KindLedger marks a wallet or chain rejection. The original ledger
	// error is preserved verbatim in the chain.
	KindLedger
	// KindCacheReconciliation marks a precise cache patch that failed.
	// Always contained by the orchestrator; never propagated.
	KindCacheReconciliation
)

// Stable machine-readable codes attached to AuthorizationDeclined errors so
// a UI can distinguish "the user closed the window" from "the browser never
// opened one".
const (
	CodeAuthCancelled    = "INTENT_AUTH_CANCELLED"
	CodeAuthPopupBlocked = "INTENT_AUTH_POPUP_BLOCKED"
	CodeAuthFailed       = "INTENT_AUTH_FAILED"
)

// Error is the coded error type shared by all engine components. Message is
// user-presentable; Code is machine-readable and stable across releases.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error // wrapped cause, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap builds an Error of the given kind around a cause.
func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Validation returns a fail-fast validation error.
func Validation(message string) *Error {
	return New(KindValidation, "VALIDATION", message)
}

// Transport wraps a network or decoding failure.
func Transport(message string, err error) *Error {
	return Wrap(KindTransport, "TRANSPORT", message, err)
}

// Declined returns an authorization-declined error with the given code.
func Declined(code, message string) *Error {
	return New(KindAuthorizationDeclined, code, message)
}

// Ledger wraps a wallet/chain rejection, keeping the original error intact.
func Ledger(err error) *Error {
	return Wrap(KindLedger, "LEDGER", "ledger write rejected", err)
}

// Reconciliation wraps a failed precise cache patch.
func Reconciliation(message string, err error) *Error {
	return Wrap(KindCacheReconciliation, "CACHE_RECONCILIATION", message, err)
}

// IsKind reports whether err (or anything it wraps) is an engine Error of
// the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// CodeOf returns the machine code of err, or "" when err is not an engine
// Error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
