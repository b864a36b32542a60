// Package apperr defines the error taxonomy shared by the prediction service.
// Every failure that crosses a component boundary is an *Error carrying exactly
// one Kind, and every Kind maps to exactly one transport status.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Kind classifies a failure.
type Kind string

const (
	KindValidation       Kind = "ValidationError"
	KindModelUnavailable Kind = "ModelUnavailable"
	KindInferenceFailure Kind = "InferenceFailure"
	KindArtifactNotFound Kind = "ArtifactNotFound"
	KindArtifactCorrupt  Kind = "ArtifactCorrupt"
	KindBadRequest       Kind = "BadRequest"
	KindNotFound         Kind = "NotFound"
)

// Violation describes one field that failed a constraint.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return v.Field + ": " + v.Message
}

// Error is the typed failure value. Message is safe to show to clients; the
// wrapped cause is for logs only.
type Error struct {
	Kind       Kind
	Message    string
	Violations []Violation
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	if len(e.Violations) > 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail())
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Detail renders the client-facing message, enumerating violations if any.
func (e *Error) Detail() string {
	if len(e.Violations) == 0 {
		return e.Message
	}
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return e.Message + ": " + strings.Join(parts, "; ")
}

// StatusCode returns the HTTP status the kind maps to.
func (e *Error) StatusCode() int {
	return StatusCode(e.Kind)
}

// New creates an error of the given kind without a cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind carrying cause for diagnostics.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Validation builds a validation error. Violations are sorted by field so the
// rendered detail is stable.
func Validation(violations []Violation) *Error {
	sorted := make([]Violation, len(violations))
	copy(sorted, violations)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Field < sorted[j].Field })
	return &Error{Kind: KindValidation, Message: "invalid input", Violations: sorted}
}

// KindOf reports the kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// StatusCode maps a kind to its transport status.
func StatusCode(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindModelUnavailable:
		return http.StatusServiceUnavailable
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInferenceFailure, KindArtifactNotFound, KindArtifactCorrupt:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
