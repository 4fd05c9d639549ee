package wmierr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesSentinelByKind(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"invalid argument", InvalidArgument("Connect", "resource is empty"), ErrInvalidArgument},
		{"invalid state", InvalidState("Execute", "session closed"), ErrInvalidState},
		{"query syntax", QuerySyntax("Parse", "bad query %q", "SELECT"), ErrQuerySyntax},
		{"timeout", Timeout("Next", "query timed out"), ErrTimeout},
		{"protocol", Protocol("ExecQuery", 0x80041001, "failed"), ErrProtocol},
		{"format", Format("ParseDateTime", "bad value"), ErrFormat},
		{"illegal state", IllegalState("CoInitialize", 0x80010106, "changed mode"), ErrIllegalState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("expected errors.Is(%v, %v) to be true", tt.err, tt.sentinel)
			}
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !errors.Is(wrapped, tt.sentinel) {
				t.Errorf("expected wrapped error to match %v", tt.sentinel)
			}
			for _, other := range sentinels {
				if other != tt.sentinel && errors.Is(tt.err, other) {
					t.Errorf("error %v unexpectedly matches %v", tt.err, other)
				}
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := Protocol("ExecQuery", 0x80041001, "WBEM_E_FAILED: Call failed. (0x80041001)")
	want := "ExecQuery: WBEM_E_FAILED: Call failed. (0x80041001)"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}

	cause := errors.New("boom")
	wrapped := Wrap(KindTimeout, "Execute", cause)
	if wrapped.Error() != "Execute: TIMEOUT: boom" {
		t.Errorf("unexpected message %q", wrapped.Error())
	}
	if !errors.Is(wrapped, cause) {
		t.Error("expected wrapped error to unwrap to cause")
	}

	var nilErr *Error
	if nilErr.Error() != "<nil>" {
		t.Errorf("expected <nil>, got %q", nilErr.Error())
	}
}

func TestKindAndCodeOf(t *testing.T) {
	err := fmt.Errorf("context: %w", Protocol("Next", 0x80041017, "invalid query"))
	if KindOf(err) != KindProtocol {
		t.Errorf("expected KindProtocol, got %q", KindOf(err))
	}
	if CodeOf(err) != 0x80041017 {
		t.Errorf("expected code 0x80041017, got 0x%X", CodeOf(err))
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("expected empty kind for plain error")
	}
	if CodeOf(nil) != 0 {
		t.Error("expected zero code for nil")
	}
}

func TestIsHelpers(t *testing.T) {
	if !IsTimeout(Timeout("x", "y")) {
		t.Error("IsTimeout")
	}
	if !IsQuerySyntax(QuerySyntax("x", "y")) {
		t.Error("IsQuerySyntax")
	}
	if !IsInvalidState(InvalidState("x", "y")) {
		t.Error("IsInvalidState")
	}
	if !IsProtocol(Protocol("x", 1, "y")) {
		t.Error("IsProtocol")
	}
	if IsTimeout(Protocol("x", 1, "y")) {
		t.Error("protocol error reported as timeout")
	}
	if !errors.Is(Timeout("a", "b"), &Error{Kind: KindTimeout}) {
		t.Error("expected *Error target to match by kind")
	}
}
