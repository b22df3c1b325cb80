package optimization

import (
	"errors"
	"fmt"
)

// Kind classifies an optimization error by the collaborator that produced it.
type Kind string

const (
	// KindGeneration marks a failed image generation call.
	KindGeneration Kind = "generation"
	// KindEvaluation marks a failed scoring call.
	KindEvaluation Kind = "evaluation"
	// KindRewrite marks a failed prompt rewrite.
	KindRewrite Kind = "rewrite"
	// KindConfiguration marks invalid construction-time settings. It is the
	// only kind that is ever returned to callers of Optimize.
	KindConfiguration Kind = "configuration"
)

// Sentinels for errors.Is matching against a Kind.
var (
	ErrGeneration    = &Error{Kind: KindGeneration}
	ErrEvaluation    = &Error{Kind: KindEvaluation}
	ErrRewrite       = &Error{Kind: KindRewrite}
	ErrConfiguration = &Error{Kind: KindConfiguration}
)

// Error represents an optimization error with context
// that can be wrapped with additional information.
type Error struct {
	// Kind is the error class.
	Kind Kind
	// Message describes the error that occurred.
	Message string
	// Op is the operation that caused the error.
	Op string
	// Component is the component where the error occurred.
	Component string
	// Err is the underlying error that triggered this one, if any.
	Err error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var prefix string
	if e.Component != "" && e.Op != "" {
		prefix = fmt.Sprintf("%s: %s", e.Component, e.Op)
	} else if e.Component != "" {
		prefix = e.Component
	} else if e.Op != "" {
		prefix = e.Op
	}

	msg := e.Message
	if msg == "" {
		msg = string(e.Kind) + " failed"
	}

	if e.Err != nil {
		if prefix != "" {
			return fmt.Sprintf("%s: %s: %v", prefix, msg, e.Err)
		}
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}

	if prefix != "" {
		return fmt.Sprintf("%s: %s", prefix, msg)
	}
	return msg
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error of the same Kind, so the package sentinels can be
// used with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Kind != "" && e.Kind == t.Kind
}

// WithOperation adds operation context to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// WithComponent adds component context to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// NewError creates a new error of the given kind.
func NewError(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
	}
}

// NewErrorf creates a new error of the given kind with a formatted message.
func NewErrorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError wraps an existing error with a kind and message.
// If err is nil, WrapError returns nil.
func WrapError(kind Kind, err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// WrapErrorf wraps an existing error with a kind and formatted message.
// If err is nil, WrapErrorf returns nil.
func WrapErrorf(kind Kind, err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// GenerationError wraps err as a generation failure.
func GenerationError(err error, message string) *Error {
	return ensureKind(KindGeneration, err, message)
}

// EvaluationError wraps err as an evaluation failure.
func EvaluationError(err error, message string) *Error {
	return ensureKind(KindEvaluation, err, message)
}

// RewriteError wraps err as a rewrite failure.
func RewriteError(err error, message string) *Error {
	return ensureKind(KindRewrite, err, message)
}

// ConfigurationError reports invalid settings detected at construction time.
func ConfigurationError(component, message string) *Error {
	return NewError(KindConfiguration, message).WithComponent(component)
}

// ensureKind copies an existing *Error of the same kind instead of double
// wrapping it. A nil err still yields an error, since collaborators call this
// for empty responses too.
func ensureKind(kind Kind, err error, message string) *Error {
	if e, ok := err.(*Error); ok && e != nil && e.Kind == kind {
		c := *e
		return &c
	}
	if err == nil {
		return NewError(kind, message)
	}
	return WrapError(kind, err, message)
}

// IsOptimizationError checks if an error is of type Error.
// If the error is an optimization error, it returns the error and true.
// Otherwise, it returns nil and false.
func IsOptimizationError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
