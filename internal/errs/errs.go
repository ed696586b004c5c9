// Package errs defines the orchestrator's structured error taxonomy (spec
// §7). Every error that crosses a component boundary is an *errs.Error
// carrying a stable Kind, the step id it happened on (if any), and a
// user-safe message; the underlying cause is reachable only through
// errors.Unwrap so that internal paths, stack traces, and credentials never
// leak into a user-visible message.
package errs

import "fmt"

// Kind enumerates the error taxonomy from spec §7.
type Kind string

const (
	// KindPlanning is a fatal planning error (e.g. a dependency cycle).
	KindPlanning Kind = "planning_error"
	// KindSelection means no suitable agent was found for a step.
	KindSelection Kind = "selection_empty"
	// KindInvocation is an agent invocation failure.
	KindInvocation Kind = "invocation_error"
	// KindCircuitOpen means a circuit breaker rejected the call.
	KindCircuitOpen Kind = "circuit_open"
	// KindTimeout is a step or lock timeout.
	KindTimeout Kind = "timeout"
	// KindStateStore is a state store read/write/lock failure.
	KindStateStore Kind = "state_store_error"
	// KindValidation is a rejected request (4xx to the submitter).
	KindValidation Kind = "validation_error"
	// KindCancelled marks a terminal, user-requested cancellation.
	KindCancelled Kind = "cancelled"
)

// Error is the structured error type surfaced above the resilience layer.
type Error struct {
	Kind    Kind
	StepID  string
	Message string
	cause   error
}

// New constructs an Error. cause may be nil.
func New(kind Kind, stepID, message string, cause error) *Error {
	return &Error{Kind: kind, StepID: stepID, Message: message, cause: cause}
}

// Error implements error. It never includes the underlying cause's message
// verbatim — only Message, which callers are expected to keep safe for
// end users.
func (e *Error) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("%s: %s (step %s)", e.Kind, e.Message, e.StepID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause for errors.Is/errors.As, not for string
// formatting.
func (e *Error) Unwrap() error { return e.cause }

// CauseClassName returns the underlying cause's dynamic type name, used when
// building a structured error for upward propagation (spec §7: "the
// underlying cause's class name").
func (e *Error) CauseClassName() string {
	if e.cause == nil {
		return ""
	}
	return fmt.Sprintf("%T", e.cause)
}

// Is reports whether err is an *Error with the given Kind, supporting
// errors.Is(err, errs.KindTimeout)-style checks via a small adapter.
func Is(err error, kind Kind) bool {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
	} else if ok := asError(err, &e); !ok {
		return false
	}
	return e != nil && e.Kind == kind
}

func asError(err error, target **Error) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
