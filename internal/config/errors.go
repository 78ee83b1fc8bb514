package config

import (
	"fmt"
	"strings"
)

// FieldError describes one failed validation rule.
type FieldError struct {
	Path     string `json:"path"`
	Reason   string `json:"reason"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

func (e FieldError) String() string {
	s := e.Path + ": " + e.Reason
	if e.Expected != "" {
		s += fmt.Sprintf(" (expected %s, got %s)", e.Expected, e.Actual)
	}
	return s
}

// ValidationError is returned when a raw configuration fails the schema.
// Fields lists every failure in document order, never just the first.
type ValidationError struct {
	Fields []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.String()
	}
	noun := "errors"
	if len(parts) == 1 {
		noun = "error"
	}
	return fmt.Sprintf("invalid memory config (%d %s): %s", len(parts), noun, strings.Join(parts, "; "))
}

// Has reports whether a failure was recorded for path.
func (e *ValidationError) Has(path string) bool {
	for _, f := range e.Fields {
		if f.Path == path {
			return true
		}
	}
	return false
}

// Paths returns the failing paths in order.
func (e *ValidationError) Paths() []string {
	out := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		out[i] = f.Path
	}
	return out
}
