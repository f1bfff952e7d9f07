package syncerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	base := New(Conflict, "push", errors.New("Slot already occupied"))
	wrapped := fmt.Errorf("drain: %w", base)

	if got := KindOf(wrapped); got != Conflict {
		t.Fatalf("KindOf: got %v, want conflict", got)
	}
	if !errors.Is(wrapped, ErrConflict) {
		t.Fatal("errors.Is(wrapped, ErrConflict) = false")
	}
	if errors.Is(wrapped, ErrTransient) {
		t.Fatal("conflict matched ErrTransient")
	}
}

func TestKindOfPlainError(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != Unknown {
		t.Fatalf("got %v, want unknown", got)
	}
	if got := KindOf(nil); got != Unknown {
		t.Fatalf("nil: got %v", got)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient", New(Transient, "push", errors.New("timeout")), true},
		{"plain", errors.New("eof"), true},
		{"conflict", New(Conflict, "push", nil), false},
		{"auth", New(Unauthenticated, "push", nil), false},
		{"validation", New(Validation, "push", nil), false},
		{"fatal", New(Fatal, "open", nil), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorString(t *testing.T) {
	err := Errorf(Validation, "enqueue", "start %s after end", "10:30")
	want := "enqueue: validation: start 10:30 after end"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}
