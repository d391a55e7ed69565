// Package clierr defines the CLI-facing error type the driver and the
// cmd/kanon commands use to report failures with actionable context.
package clierr

import (
	"fmt"
	"strings"
)

// Kind classifies a KAnonError.
type Kind int

const (
	// KindConfig is a configuration error: unknown QID type, missing
	// hierarchy, k < 2. Fatal before the run starts.
	KindConfig Kind = iota
	// KindInvariant is an invariant violation: normalized width > 1,
	// a split's child counts not summing to the parent, final counts
	// not summing to the initial count. Fatal; never persist partial
	// output.
	KindInvariant
	// KindBackend is a backend transport error, surfaced but never
	// retried by the core.
	KindBackend
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "configuration error"
	case KindInvariant:
		return "invariant violation"
	case KindBackend:
		return "backend error"
	default:
		return "error"
	}
}

// KAnonError is a user-facing error carrying the failed operation, its
// cause, and suggested next steps.
type KAnonError struct {
	Kind        Kind
	Operation   string
	Cause       string
	Suggestions []string
	Underlying  error
}

func (e *KAnonError) Error() string {
	var msg strings.Builder
	msg.WriteString(e.Kind.String())
	if e.Operation != "" {
		msg.WriteString(fmt.Sprintf(" during %s", e.Operation))
	}
	if e.Cause != "" {
		msg.WriteString(fmt.Sprintf(": %s", e.Cause))
	}
	if len(e.Suggestions) > 0 {
		msg.WriteString("\n\nSuggestions:")
		for i, s := range e.Suggestions {
			msg.WriteString(fmt.Sprintf("\n  %d. %s", i+1, s))
		}
	}
	return msg.String()
}

func (e *KAnonError) Unwrap() error { return e.Underlying }

// NewConfigError wraps a configuration-resolution failure.
func NewConfigError(operation string, underlying error, suggestions ...string) *KAnonError {
	return &KAnonError{
		Kind:        KindConfig,
		Operation:   operation,
		Cause:       underlying.Error(),
		Suggestions: suggestions,
		Underlying:  underlying,
	}
}

// NewInvariantError wraps an invariant violation surfaced by Mondrian or
// Datafly. The run must abort without persisting anything.
func NewInvariantError(operation string, underlying error) *KAnonError {
	return &KAnonError{
		Kind:      KindInvariant,
		Operation: operation,
		Cause:     underlying.Error(),
		Suggestions: []string{
			"this indicates a bug in the algorithm or an inconsistent backend; no output was persisted",
		},
		Underlying: underlying,
	}
}

// NewBackendError wraps a transport failure from a Backend call.
func NewBackendError(operation string, underlying error) *KAnonError {
	cause := "backend operation failed"
	details := underlying.Error()
	lower := strings.ToLower(details)
	switch {
	case strings.Contains(lower, "no such file"):
		cause = "data file not found"
	case strings.Contains(lower, "permission denied"):
		cause = "insufficient permissions to access the backend"
	case strings.Contains(lower, "locked"):
		cause = "backend is locked by another process"
	}
	return &KAnonError{
		Kind:        KindBackend,
		Operation:   operation,
		Cause:       fmt.Sprintf("%s (%s)", cause, details),
		Suggestions: []string{"check the --backend path/DSN and retry; the core never retries backend errors itself"},
		Underlying:  underlying,
	}
}
