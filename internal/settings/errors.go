package settings

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned by settings operations.
var (
	// ErrUnknownField indicates a field name or key not present in the schema.
	ErrUnknownField = errors.New("unknown field")

	// ErrTypeMismatch indicates a value of the wrong Go type for a field.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrDuplicateField indicates two fields share a name.
	ErrDuplicateField = errors.New("duplicate field name")

	// ErrDuplicateKey indicates two fields share a persistence key.
	ErrDuplicateKey = errors.New("duplicate field key")

	// ErrOutOfRange indicates a value the store encoding cannot represent.
	ErrOutOfRange = errors.New("value out of range")

	// ErrValidationFailed indicates a value rejected by validation rules.
	ErrValidationFailed = errors.New("validation failed")

	// ErrEncode indicates a value that could not be serialized.
	ErrEncode = errors.New("encode failed")
)

// ValidationError describes a value rejected by a field's rules.
type ValidationError struct {
	// Field is the field name, empty when validating against bare Meta.
	Field string
	// Rule names the failing rule: required, range, length, pattern or custom.
	Rule string
	// Message is the configured or generated error message.
	Message string
	// Value is the rejected value.
	Value any
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s (value: %v)", e.Rule, e.Message, e.Value)
	}
	return fmt.Sprintf("%s: %s: %s (value: %v)", e.Field, e.Rule, e.Message, e.Value)
}

// Is matches ErrValidationFailed.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// WriteError reports a field value that could not be staged into the store.
type WriteError struct {
	// Field is the field name.
	Field string
	// Key is the store key the write targeted.
	Key string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s (key %s): %v", e.Field, e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *WriteError) Unwrap() error {
	return e.Err
}

// WriteErrors collects the failed writes of one transaction.
type WriteErrors []*WriteError

// Error implements the error interface.
func (e WriteErrors) Error() string {
	switch len(e) {
	case 0:
		return "no write errors"
	case 1:
		return e[0].Error()
	}
	parts := make([]string, len(e))
	for i, we := range e {
		parts[i] = we.Error()
	}
	return fmt.Sprintf("%d writes failed: %s", len(e), strings.Join(parts, "; "))
}

// Unwrap exposes each write error to errors.Is and errors.As.
func (e WriteErrors) Unwrap() []error {
	out := make([]error, len(e))
	for i, we := range e {
		out[i] = we
	}
	return out
}
