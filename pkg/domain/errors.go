package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable, machine-readable category of an engine error.
type ErrorKind string

const (
	KindInvalidState      ErrorKind = "invalid_state"
	KindMissingCasting    ErrorKind = "missing_casting"
	KindGenerationFailure ErrorKind = "generation_failure"
	KindRoutingOverflow   ErrorKind = "routing_overflow"
	KindNotFound          ErrorKind = "not_found"
	KindInvalidTemplate   ErrorKind = "invalid_template"
	KindInvalidCasting    ErrorKind = "invalid_casting"
	KindInternal          ErrorKind = "internal"
)

var (
	// ErrSessionNotFound is returned when a session ID cannot be found in the repository.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTemplateNotFound is returned when a catalog has no template with the given ID.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrRoleNotFound is returned when a catalog has no role with the given ID.
	ErrRoleNotFound = errors.New("role not found")

	ErrInvalidState      = errors.New("invalid state")
	ErrMissingCasting    = errors.New("missing casting")
	ErrGenerationFailure = errors.New("generation failure")
	ErrRoutingOverflow   = errors.New("routing overflow")
	ErrInvalidTemplate   = errors.New("invalid template")
	ErrInvalidCasting    = errors.New("invalid casting")
)

var kindSentinels = map[ErrorKind]error{
	KindInvalidState:      ErrInvalidState,
	KindMissingCasting:    ErrMissingCasting,
	KindGenerationFailure: ErrGenerationFailure,
	KindRoutingOverflow:   ErrRoutingOverflow,
	KindInvalidTemplate:   ErrInvalidTemplate,
	KindInvalidCasting:    ErrInvalidCasting,
}

// EngineError carries a kind and a human-readable reason.
// It matches its kind's sentinel with errors.Is and unwraps to the cause.
type EngineError struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// NewError builds an EngineError.
func NewError(kind ErrorKind, reason string, cause error) *EngineError {
	return &EngineError{Kind: kind, Reason: reason, Err: cause}
}

// InvalidStateError reports an operation attempted in the wrong status.
func InvalidStateError(op string, status Status) *EngineError {
	return NewError(KindInvalidState, fmt.Sprintf("cannot %s a session in status %q", op, status), nil)
}

// KindOf classifies any error into an ErrorKind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrTemplateNotFound), errors.Is(err, ErrRoleNotFound):
		return KindNotFound
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindInternal
}
