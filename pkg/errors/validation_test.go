package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestFieldError(t *testing.T) {
	tests := []struct {
		name string
		err  *FieldError
		want string
	}{
		{"with detail", &FieldError{Field: "name", Constraint: "pattern", Detail: "does not match"}, "name: violates pattern: does not match"},
		{"without detail", &FieldError{Field: "version", Constraint: "required"}, "version: violates required"},
		{"root", &FieldError{Constraint: "type"}, "(root): violates type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewValidation(t *testing.T) {
	err := NewValidation("package",
		&FieldError{Field: "name", Constraint: "pattern"},
		&FieldError{Field: "version", Constraint: "required"},
	)

	if !Is(err, ErrCodeValidation) {
		t.Fatal("expected VALIDATION_ERROR")
	}
	if !strings.Contains(err.Message, "name") {
		t.Errorf("Message = %q, want first field named", err.Message)
	}

	fields := Fields(fmt.Errorf("wrapped: %w", err))
	if len(fields) != 2 {
		t.Fatalf("Fields() returned %d entries, want 2", len(fields))
	}
	if fields[1].Field != "version" || fields[1].Constraint != "required" {
		t.Errorf("fields[1] = %+v", fields[1])
	}

	var fe *FieldError
	if !errors.As(err, &fe) {
		t.Error("errors.As(*FieldError) = false, want true")
	}
}

func TestFieldsOnOtherErrors(t *testing.T) {
	if got := Fields(errors.New("plain")); got != nil {
		t.Errorf("Fields(plain) = %v, want nil", got)
	}
}
