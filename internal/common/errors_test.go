package common

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestAppErrorIsMatchesCodeSentinel(t *testing.T) {
	err := fmt.Errorf("submit: %w", NewAppError(CodeTransfer, "Upload failed", errors.New("boom")))
	if !errors.Is(err, ErrTransfer) {
		t.Fatal("expected errors.Is(err, ErrTransfer)")
	}
	if errors.Is(err, ErrRegistration) {
		t.Fatal("transfer error must not match registration")
	}
}

func TestUserMessage(t *testing.T) {
	err := NewAppError(CodeRegistration, "Too many jobs", nil).WithStatus(429, 90*time.Second)
	got := UserMessage(fmt.Errorf("wrapped: %w", err))
	if !strings.HasPrefix(got, "Too many jobs") || !strings.Contains(got, "1m30s") {
		t.Fatalf("unexpected message %q", got)
	}
	if UserMessage(errors.New("raw")) != "Something went wrong" {
		t.Fatal("unexpected fallback message")
	}
	if UserMessage(nil) != "" {
		t.Fatal("nil error should have empty message")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{429, true},
		{503, true},
		{400, false},
		{402, false},
		{0, false},
	}
	for _, tt := range tests {
		err := NewAppError(CodeRegistration, "x", nil).WithStatus(tt.status, 0)
		if got := IsRetryable(err); got != tt.want {
			t.Errorf("status %d: got %v want %v", tt.status, got, tt.want)
		}
	}
	if IsRetryable(errors.New("plain")) {
		t.Fatal("plain errors are not retryable")
	}
}

func TestValidatorErr(t *testing.T) {
	v := NewValidator().
		Field("filename", "", Required).
		Field("size", int64(20), AtMost(10, "too big"))
	err := v.Err()
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var ve ValidationError
	if !errors.As(err, &ve) || ve.Field != "filename" {
		t.Fatalf("expected first failure on filename, got %+v", ve)
	}
	if got := UserMessage(err); got != "filename is required; too big" {
		t.Fatalf("unexpected message %q", got)
	}
	if NewValidator().Field("x", "ok", Required).Err() != nil {
		t.Fatal("clean validator should return nil")
	}
}
