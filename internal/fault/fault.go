// Package fault defines the error taxonomy shared across the incident
// engine. Adapters wrap raw transport errors into one of the kinds below so
// callers branch on kind instead of string-matching messages.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error for control flow and HTTP mapping.
type Kind int

const (
	// KindUnknown is a wrapped transport or internal error with no more
	// specific classification.
	KindUnknown Kind = iota

	// KindValidation is bad caller input. Never retried.
	KindValidation

	// KindNotFound means the referenced incident or entity does not exist.
	KindNotFound

	// KindConditionFailed is an optimistic-concurrency loss: the write's
	// precondition on current state did not hold. The caller retries with
	// fresh state; this layer never retries it.
	KindConditionFailed

	// KindInvalidTransition is an illegal status change request.
	KindInvalidTransition

	// KindExternal is a downstream channel or service failure. Retried by
	// the queue/feed's native redelivery.
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConditionFailed:
		return "condition_failed"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindExternal:
		return "external"
	default:
		return "unknown"
	}
}

// Error is a kind-tagged error. Err, when set, is the wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg != "" {
			return e.Msg + ": " + e.Err.Error()
		}
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a kind-tagged error with the given message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf returns a kind-tagged error with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error with a kind and context message. A nil err
// yields nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf reports the kind of err, walking the wrap chain. Errors outside the
// taxonomy report KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsConditionFailed reports whether err is an optimistic-concurrency loss.
func IsConditionFailed(err error) bool { return KindOf(err) == KindConditionFailed }

// IsInvalidTransition reports whether err is an illegal status change.
func IsInvalidTransition(err error) bool { return KindOf(err) == KindInvalidTransition }

// IsExternal reports whether err is a downstream service failure.
func IsExternal(err error) bool { return KindOf(err) == KindExternal }
