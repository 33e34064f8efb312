package contracts

import (
	"errors"
	"fmt"
	"strings"
)

// FieldError describes one rejected input field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError rejects a submission before any side effect.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// NewValidationError builds a single-field ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Reason: reason}}}
}

// SecurityError is terminal. No partial writes follow it.
type SecurityError struct {
	Reason string
}

func (e *SecurityError) Error() string {
	return "security check failed: " + e.Reason
}

// DependencyError wraps the failure of a single collaborator call. It is
// recorded on the signal and never aborts a submission.
type DependencyError struct {
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// PersistenceError reports that every persistence strategy failed.
type PersistenceError struct {
	Tiers []string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed after %s: %v", strings.Join(e.Tiers, ", "), e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// PlanParseError means the model returned output that is not a valid action
// plan. It aborts action execution only.
type PlanParseError struct {
	Excerpt string
	Err     error
}

func (e *PlanParseError) Error() string {
	return fmt.Sprintf("plan parse failed: %v", e.Err)
}

func (e *PlanParseError) Unwrap() error { return e.Err }

// Kind names the taxonomy class of err, or "" when err is outside it.
func Kind(err error) string {
	var (
		ve  *ValidationError
		se  *SecurityError
		de  *DependencyError
		pe  *PersistenceError
		ppe *PlanParseError
	)
	switch {
	case errors.As(err, &ve):
		return "ValidationError"
	case errors.As(err, &se):
		return "SecurityError"
	case errors.As(err, &de):
		return "DependencyError"
	case errors.As(err, &pe):
		return "PersistenceError"
	case errors.As(err, &ppe):
		return "PlanParseError"
	}
	return ""
}
