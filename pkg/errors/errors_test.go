package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestSignalError_Error(t *testing.T) {
	err := NewNotFound("stream")
	expected := "NOT_FOUND: stream not found"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestWrapEngine_PreservesCause(t *testing.T) {
	cause := errors.New("worker died")
	err := WrapEngine("produce", cause)

	if err.Code != CodeEngineFailure {
		t.Errorf("Code = %v, want %v", err.Code, CodeEngineFailure)
	}
	if !errors.Is(err, cause) {
		t.Errorf("wrapped error must unwrap to its cause")
	}
}

func TestAsSignalError_ExtractsFromChain(t *testing.T) {
	inner := NewInvalidState("stream is not active")
	wrapped := fmt.Errorf("handling request: %w", inner)

	got := AsSignalError(wrapped)
	if got != inner {
		t.Errorf("AsSignalError should find the inner SignalError")
	}
}

func TestAsSignalError_WrapsUnclassified(t *testing.T) {
	got := AsSignalError(errors.New("boom"))
	if got.Code != CodeEngineFailure {
		t.Errorf("Code = %v, want %v", got.Code, CodeEngineFailure)
	}
}

func TestCodeOf(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{nil, ""},
		{NewNotFound("session"), CodeNotFound},
		{NewInvalidState("nope"), CodeInvalidState},
		{NewInvalidArgument("bad"), CodeInvalidArgument},
		{errors.New("raw"), CodeEngineFailure},
	}
	for _, tc := range cases {
		if got := CodeOf(tc.err); got != tc.want {
			t.Errorf("CodeOf(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
