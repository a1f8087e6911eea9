package query

import "fmt"

// ValidationError reports malformed or out-of-policy request input. It is
// always attributed to the offending parameter and propagates to the caller
// unchanged; nothing in this package recovers from one.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalidf(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
