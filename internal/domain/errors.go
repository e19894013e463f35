package domain

import "fmt"

// ValidationError reports a malformed condition tree or a parameter outside
// its allowed range. Field names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// DataError reports insufficient or malformed price history.
type DataError struct {
	Message string
	Index   int
}

func (e *DataError) Error() string {
	if e.Index > 0 {
		return fmt.Sprintf("data error at index %d: %s", e.Index, e.Message)
	}
	return "data error: " + e.Message
}

// ProviderError wraps a failure from an external market-data or broker
// collaborator. It is surfaced to callers untouched.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
