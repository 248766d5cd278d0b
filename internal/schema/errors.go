package schema

import (
	"errors"
	"fmt"
)

// Error codes for schema failures.
const (
	CodeRootNotObject       = "E201"
	CodeRootUnion           = "E202"
	CodeMalformed           = "E203"
	CodeDiscriminator       = "E204"
	CodeOpenObject          = "E205"
	CodeTooDeep             = "E206"
	CodeInstanceMismatch    = "E207"
	CodePropertyNotRequired = "E208"
	CodeInvalidName         = "E209"
)

// ValidationError reports a schema (or instance) that fails validation.
type ValidationError struct {
	// Code is one of the E2xx constants.
	Code string

	// Path is a JSON pointer to the offending construct ("" is the root).
	Path string

	// Message names the problem.
	Message string

	// Suggestion, when set, describes a fix.
	Suggestion string
}

func (e *ValidationError) Error() string {
	path := e.Path
	if path == "" {
		path = "/"
	}
	msg := fmt.Sprintf("[%s] %s: %s", e.Code, path, e.Message)
	if e.Suggestion != "" {
		msg += " (" + e.Suggestion + ")"
	}
	return msg
}

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsInstanceMismatch reports whether err is an instance failing its schema.
func IsInstanceMismatch(err error) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Code == CodeInstanceMismatch
	}
	return false
}
