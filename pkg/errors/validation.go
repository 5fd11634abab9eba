package errors

import (
	"errors"
	"fmt"
	"strings"
)

// FieldError describes a single contract violation.
//
// Field is a slash-separated path into the validated value ("" for the root),
// Constraint is the violated rule ("pattern", "required", "format",
// "minLength", "type", ...), and Detail is the validator's own description.
type FieldError struct {
	Field      string
	Constraint string
	Detail     string
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	field := e.fieldOrRoot()
	if e.Detail == "" {
		return fmt.Sprintf("%s: violates %s", field, e.Constraint)
	}
	return fmt.Sprintf("%s: violates %s: %s", field, e.Constraint, e.Detail)
}

// ValidationErrors is the full set of violations found in one value.
type ValidationErrors []*FieldError

// Error joins all violations, one per line.
func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, fe := range v {
		parts[i] = fe.Error()
	}
	return strings.Join(parts, "; ")
}

// Unwrap exposes each violation to errors.As.
func (v ValidationErrors) Unwrap() []error {
	errs := make([]error, len(v))
	for i, fe := range v {
		errs[i] = fe
	}
	return errs
}

// NewValidation wraps field violations found while checking subject
// ("source", "package", "listing", ...) as a VALIDATION_ERROR.
func NewValidation(subject string, violations ...*FieldError) *Error {
	msg := subject + " is invalid"
	if len(violations) > 0 {
		msg = fmt.Sprintf("%s is invalid at %s", subject, violations[0].fieldOrRoot())
	}
	return &Error{
		Code:    ErrCodeValidation,
		Message: msg,
		Cause:   ValidationErrors(violations),
	}
}

// Fields returns the violations carried by err, if it is a validation error.
func Fields(err error) []*FieldError {
	var errs ValidationErrors
	if errors.As(err, &errs) {
		return errs
	}
	var fe *FieldError
	if errors.As(err, &fe) {
		return []*FieldError{fe}
	}
	return nil
}

func (e *FieldError) fieldOrRoot() string {
	if e.Field == "" {
		return "(root)"
	}
	return e.Field
}
