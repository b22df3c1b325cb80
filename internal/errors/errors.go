// Package errors maps failures to HTTP responses for the promptforge service.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"github.com/copyleftdev/promptforge/internal/optimization"
)

// APIError is an error that carries the HTTP status it should be reported
// with.
type APIError struct {
	// Status is the HTTP status code.
	Status int
	// Message is safe to show to clients.
	Message string
	// Err is the underlying cause. It is logged, never returned to clients.
	Err error
	// Stack is captured for server-side failures only.
	Stack []string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *APIError) Unwrap() error {
	return e.Err
}

// BadRequest reports invalid client input.
func BadRequest(format string, args ...interface{}) *APIError {
	return &APIError{Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing resource.
func NotFound(format string, args ...interface{}) *APIError {
	return &APIError{Status: http.StatusNotFound, Message: fmt.Sprintf(format, args...)}
}

// Unavailable reports that the service is at capacity.
func Unavailable(format string, args ...interface{}) *APIError {
	return &APIError{Status: http.StatusServiceUnavailable, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected failure and records where it happened.
func Internal(err error, msg string) *APIError {
	return &APIError{
		Status:  http.StatusInternalServerError,
		Message: msg,
		Err:     err,
		Stack:   getStackTrace(),
	}
}

// From converts any error into an APIError. Configuration problems are the
// caller's fault; every other optimization failure is a server error.
func From(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr
	}

	if optErr, ok := optimization.IsOptimizationError(err); ok {
		if optErr.Kind == optimization.KindConfiguration {
			return &APIError{Status: http.StatusBadRequest, Message: optErr.Error(), Err: err}
		}
		return &APIError{Status: http.StatusBadGateway, Message: optErr.Error(), Err: err}
	}

	return Internal(err, http.StatusText(http.StatusInternalServerError))
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// WriteJSON writes err as a JSON error response.
func WriteJSON(w http.ResponseWriter, err error) {
	apiErr := From(err)

	var body errorBody
	body.Error.Code = apiErr.Status
	body.Error.Message = apiErr.Message

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	_ = json.NewEncoder(w).Encode(body)
}

// getStackTrace returns the current stack trace as a slice of strings.
func getStackTrace() []string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:]) // Skip runtime.Callers, getStackTrace, and the constructor
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	stack := make([]string, 0, n)

	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") && !strings.Contains(frame.File, "internal/errors") {
			stack = append(stack, fmt.Sprintf("%s\n\t%s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}

	return stack
}
