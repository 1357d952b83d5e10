package reply

import "fmt"

type ErrorType string

const (
	ErrTypeConfig   ErrorType = "CONFIG"
	ErrTypeProvider ErrorType = "PROVIDER"
	ErrTypeEmpty    ErrorType = "EMPTY"
)

// Error describes a failed reply generation.
type Error struct {
	Type      ErrorType
	Operation string
	Message   string
	Model     string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("reply %s error in %s: %s (caused by: %v)", e.Type, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("reply %s error in %s: %s", e.Type, e.Operation, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newConfigError(msg string) *Error {
	return &Error{Type: ErrTypeConfig, Operation: "config", Message: msg}
}

func newProviderError(operation, model, msg string, cause error) *Error {
	return &Error{Type: ErrTypeProvider, Operation: operation, Model: model, Message: msg, Cause: cause}
}
