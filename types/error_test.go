package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrSourceQueryFailed, "source failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithSource("remote-1")

	if GetErrorCode(err) != ErrSourceQueryFailed {
		t.Fatalf("expected code %s, got %s", ErrSourceQueryFailed, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
	if err.Source != "remote-1" {
		t.Fatalf("expected source remote-1, got %q", err.Source)
	}
}

func TestError_WrappedLookup(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("federate: %w", NewNoSourcesError())
	if !IsErrorCode(wrapped, ErrNoSources) {
		t.Fatalf("expected NO_SOURCES through wrapping, got %q", GetErrorCode(wrapped))
	}
	e, ok := AsError(wrapped)
	if !ok || e.HTTPStatus != http.StatusBadRequest {
		t.Fatalf("expected 400 status, got %+v", e)
	}
	if GetErrorCode(errors.New("plain")) != "" {
		t.Fatalf("plain errors carry no code")
	}
}

func TestError_Constructors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err    *Error
		code   ErrorCode
		status int
	}{
		{NewInvalidRequestError("bad"), ErrInvalidRequest, http.StatusBadRequest},
		{NewSourceNotFoundError("x"), ErrSourceNotFound, http.StatusNotFound},
		{NewSourceUnavailableError("x"), ErrSourceUnavailable, http.StatusServiceUnavailable},
		{NewTimeoutError("slow"), ErrTimeout, http.StatusGatewayTimeout},
		{NewInternalError("boom"), ErrInternalError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if tc.err.Code != tc.code || tc.err.HTTPStatus != tc.status {
			t.Fatalf("unexpected %+v", tc.err)
		}
	}
}
