package rxerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := New(KindValidation, "empty medication list")
	if got := KindOf(err); got != KindValidation {
		t.Errorf("KindOf = %q, want %q", got, KindValidation)
	}

	wrapped := fmt.Errorf("submit failed: %w", err)
	if got := KindOf(wrapped); got != KindValidation {
		t.Errorf("KindOf(wrapped) = %q, want %q", got, KindValidation)
	}

	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("KindOf(plain) = %q, want empty", got)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"auth", New(KindAuth, "token refresh failed"), true},
		{"transport", New(KindTransport, "timeout"), true},
		{"wrapped transport", fmt.Errorf("sync: %w", New(KindTransport, "timeout")), true},
		{"format", New(KindFormat, "bad payload"), false},
		{"validation", New(KindValidation, "no medications"), false},
		{"persistence", New(KindPersistence, "insert failed"), false},
		{"not found", New(KindNotFound, "unknown tx"), false},
		{"plain", errors.New("plain"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorsIsByKind(t *testing.T) {
	err := Wrap(KindAuth, "refresh", errors.New("401"))
	if !errors.Is(err, New(KindAuth, "")) {
		t.Error("errors.Is should match on kind")
	}
	if errors.Is(err, New(KindTransport, "")) {
		t.Error("errors.Is must not match a different kind")
	}
}

func TestFieldsOf(t *testing.T) {
	fields := []FieldError{{Field: "medications", Message: "at least one medication is required"}}
	err := WithFields(KindValidation, "invalid prescription", fields)

	got := FieldsOf(fmt.Errorf("gateway: %w", err))
	if len(got) != 1 || got[0].Field != "medications" {
		t.Fatalf("FieldsOf = %v, want medications entry", got)
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindTransport, "ehr call", cause)
	if !errors.Is(err, cause) {
		t.Error("wrapped cause should be reachable via errors.Is")
	}
}
