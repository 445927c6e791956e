package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		kind Kind
		code int
	}{
		{KindInvalidInput, 1},
		{KindRobotsDisallowed, 2},
		{KindProfileNotFound, 3},
		{KindScrapeFailure, 4},
		{KindParsing, 4},
		{KindDownloadFailure, 5},
		{KindBlocked, 5},
		{KindUnknown, 1},
		{Kind("something-nobody-registered"), 1},
	}

	for _, tt := range tests {
		if got := ExitCode(tt.kind); got != tt.code {
			t.Errorf("ExitCode(%s) = %d, want %d", tt.kind, got, tt.code)
		}
	}
}

func TestIsRetryableStatusCode(t *testing.T) {
	retryable := []int{0, 429, 500, 502, 503, 504, 599}
	for _, code := range retryable {
		if !IsRetryableStatusCode(code) {
			t.Errorf("expected status %d to be retryable", code)
		}
	}

	deterministic := []int{400, 401, 403, 404, 410, 451}
	for _, code := range deterministic {
		if IsRetryableStatusCode(code) {
			t.Errorf("expected status %d to be deterministic", code)
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("connection reset by peer")
	err := Wrap(KindNetwork, "fetch failed", cause)

	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause to be reachable via errors.Is")
	}

	var typed *Error
	if !errors.As(error(err), &typed) {
		t.Fatal("expected errors.As to match *Error")
	}
	if typed.Kind != KindNetwork {
		t.Errorf("kind = %s, want %s", typed.Kind, KindNetwork)
	}
}

func TestErrorStringIncludesStatus(t *testing.T) {
	err := New(KindServerError, "upstream melted").WithCode(503)
	want := "server_error error (status 503): upstream melted"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
