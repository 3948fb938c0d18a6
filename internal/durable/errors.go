package durable

import (
	"errors"
	"fmt"
	"strings"
)

// ErrValidation marks a request rejected at the invocation boundary.
var ErrValidation = errors.New("validation failed")

// TerminalError is a failure that must not be retried or resumed. The runtime
// records it as the invocation's final outcome.
type TerminalError struct {
	err error
}

// NewTerminalError wraps err as a terminal failure.
func NewTerminalError(err error) *TerminalError {
	return &TerminalError{err: err}
}

func (e *TerminalError) Error() string { return e.err.Error() }

func (e *TerminalError) Unwrap() error { return e.err }

// ValidationErrorf returns a terminal error wrapping ErrValidation.
func ValidationErrorf(format string, args ...any) error {
	return NewTerminalError(fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...)))
}

// IsTerminal reports whether err (or anything it wraps) is terminal.
func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}

// RestoreTerminal rebuilds a terminal error from the message recorded for a
// failed invocation, keeping the validation classification.
func RestoreTerminal(msg string) error {
	prefix := ErrValidation.Error() + ": "
	if strings.HasPrefix(msg, prefix) {
		return ValidationErrorf("%s", strings.TrimPrefix(msg, prefix))
	}
	return NewTerminalError(errors.New(msg))
}
