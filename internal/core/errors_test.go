package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorForReplyCode(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{"NOT_INITIALIZED", ExitUnavailable},
		{"UPSTREAM_UNAVAILABLE", ExitUnavailable},
		{"NOT_FOUND", ExitNotFound},
		{"UNKNOWN_ADDON", ExitNotFound},
		{"UNSUPPORTED_METHOD", ExitRejected},
		{"ADDON_FAILED", ExitRejected},
		{"INVALID", ExitUsage},
		{"INVALID_ARGUMENTS", ExitUsage},
		{"INVALID_DURATION", ExitUsage},
		{"ENCODE_ERROR", ExitRuntime},
		{"UNKNOWN", ExitRuntime},
	}

	for _, test := range tests {
		err := ErrorForReplyCode(test.code, "message")
		if err.Code != test.expected {
			t.Fatalf("code %s expected %d got %d", test.code, test.expected, err.Code)
		}
	}
}

func TestErrorForReplyCodeDefaultsMessage(t *testing.T) {
	if err := ErrorForReplyCode("NOT_FOUND", ""); err.Msg != "NOT_FOUND" {
		t.Fatalf("expected code as message, got %q", err.Msg)
	}
}

func TestExitCodeUnwraps(t *testing.T) {
	if ExitCode(nil) != ExitOK {
		t.Fatalf("expected ok")
	}
	if ExitCode(errors.New("x")) != ExitRuntime {
		t.Fatalf("expected runtime")
	}
	wrapped := fmt.Errorf("run: %w", &CLIError{Code: ExitNotFound, Msg: "missing"})
	if ExitCode(wrapped) != ExitNotFound {
		t.Fatalf("expected not found through wrapping")
	}
}
