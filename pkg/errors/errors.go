package errors

import (
	"errors"
	"fmt"
)

// Code classifies signaling errors. Validation failures are detected before
// any engine call and map to the first three codes; engine call failures
// are wrapped as ENGINE_FAILURE.
type Code string

const (
	CodeNotFound        Code = "NOT_FOUND"
	CodeInvalidState    Code = "INVALID_STATE"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeEngineFailure   Code = "ENGINE_FAILURE"
)

// SignalError is the structured error returned across the signaling
// boundary. Handlers never let anything else escape: a reply is either a
// success payload or a SignalError payload.
type SignalError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *SignalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SignalError) Unwrap() error {
	return e.Cause
}

func NewNotFound(resource string) *SignalError {
	return &SignalError{Code: CodeNotFound, Message: resource + " not found"}
}

func NewInvalidState(message string) *SignalError {
	return &SignalError{Code: CodeInvalidState, Message: message}
}

func NewInvalidArgument(message string) *SignalError {
	return &SignalError{Code: CodeInvalidArgument, Message: message}
}

// WrapEngine wraps a failed media engine call. The underlying message is
// preserved for the client; the engine is never retried by this layer.
func WrapEngine(op string, err error) *SignalError {
	return &SignalError{Code: CodeEngineFailure, Message: "engine " + op + " failed", Cause: err}
}

// AsSignalError extracts a SignalError from an error chain, wrapping
// anything unclassified as an engine failure so no raw error crosses the
// signaling boundary.
func AsSignalError(err error) *SignalError {
	var se *SignalError
	if errors.As(err, &se) {
		return se
	}
	return &SignalError{Code: CodeEngineFailure, Message: err.Error(), Cause: err}
}

// CodeOf returns the classification of err, or empty for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	return AsSignalError(err).Code
}
