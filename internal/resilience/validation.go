package resilience

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// FailureKind tags a ValidationError.
type FailureKind string

// Known validation failure kinds.
const (
	KindCountMismatch  FailureKind = "count_mismatch"
	KindMalformedField FailureKind = "malformed_field"
	KindUnparseable    FailureKind = "unparseable"
	KindEmpty          FailureKind = "empty"
)

const maxRawInError = 200

// ValidationError describes provider output that arrived intact but has the
// wrong shape. Only the fields relevant to Kind are populated.
type ValidationError struct {
	Kind    FailureKind
	Message string
	// Attempt is the 1-based attempt that produced the output; set by Invoker.
	Attempt  int
	Expected int
	Received int
	Index    int
	Item     string
	Raw      string
}

// Error implements error.
func (e *ValidationError) Error() string {
	if e.Attempt > 0 {
		return fmt.Sprintf("validation failed (%s, attempt %d): %s", e.Kind, e.Attempt, e.Message)
	}
	return fmt.Sprintf("validation failed (%s): %s", e.Kind, e.Message)
}

// Hint returns the corrective instruction appended to a repaired prompt.
func (e *ValidationError) Hint() string {
	switch e.Kind {
	case KindCountMismatch:
		return fmt.Sprintf(
			"IMPORTANT: your previous answer contained %d summaries but exactly %d are required, "+
				"one per page, in the same order as the pages were given.",
			e.Received, e.Expected)
	case KindMalformedField:
		return fmt.Sprintf(
			"IMPORTANT: item %d of your previous answer was invalid (%s). "+
				"Every item must be a non-empty plain-text string.",
			e.Index, e.Message)
	case KindUnparseable:
		return "IMPORTANT: your previous answer could not be parsed. " +
			"Respond with the requested JSON only, with no prose and no code fences."
	case KindEmpty:
		return "IMPORTANT: your previous answer was empty. Provide a non-empty answer."
	default:
		return "IMPORTANT: your previous answer was invalid: " + e.Message
	}
}

// CountMismatch reports a result list of the wrong length.
func CountMismatch(expected, received int) *ValidationError {
	return &ValidationError{
		Kind:     KindCountMismatch,
		Message:  fmt.Sprintf("expected %d items, received %d", expected, received),
		Expected: expected,
		Received: received,
	}
}

// MalformedField reports a single bad item.
func MalformedField(index int, item, reason string) *ValidationError {
	return &ValidationError{
		Kind:    KindMalformedField,
		Message: reason,
		Index:   index,
		Item:    item,
	}
}

// Unparseable reports output that could not be decoded at all.
func Unparseable(raw string, cause error) *ValidationError {
	msg := "response is not valid JSON"
	if cause != nil {
		msg = cause.Error()
	}
	return &ValidationError{
		Kind:    KindUnparseable,
		Message: msg,
		Raw:     truncate(raw, maxRawInError),
	}
}

// Empty reports a blank response.
func Empty(raw string) *ValidationError {
	return &ValidationError{
		Kind:    KindEmpty,
		Message: "response is empty",
		Raw:     truncate(raw, maxRawInError),
	}
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}

// truncate caps s at n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
