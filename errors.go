package wabridge

import (
	"errors"
	"fmt"
	"net/http"
)

// The dispatcher and forwarder classify every failure into one of five
// buckets so callers can tell "caller's fault" from "operator's fault" from
// "provider outage". Each type carries only a message; wrapping with
// pkg/errors is done at the call sites.

// ValidationError indicates malformed or incomplete input from the caller.
type ValidationError struct{ msg string }

func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string { return e.msg }

// ConfigurationError indicates a credential or URL that could not be resolved.
type ConfigurationError struct{ msg string }

func NewConfigurationError(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{msg: fmt.Sprintf(format, args...)}
}

func (e *ConfigurationError) Error() string { return e.msg }

// NotFoundError indicates a referenced CRM entity or channel is missing.
type NotFoundError struct{ msg string }

func NewNotFoundError(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{msg: fmt.Sprintf(format, args...)}
}

func (e *NotFoundError) Error() string { return e.msg }

// ProviderError indicates the messaging backend rejected or failed the call.
type ProviderError struct{ msg string }

func NewProviderError(format string, args ...interface{}) *ProviderError {
	return &ProviderError{msg: fmt.Sprintf(format, args...)}
}

func (e *ProviderError) Error() string { return e.msg }

// StatusForError maps a classified error to its HTTP status code. Anything
// unclassified is an internal error.
func StatusForError(err error) int {
	var validationErr *ValidationError
	var configErr *ConfigurationError
	var notFoundErr *NotFoundError
	var providerErr *ProviderError

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.As(err, &notFoundErr):
		return http.StatusNotFound
	case errors.As(err, &configErr):
		return http.StatusInternalServerError
	case errors.As(err, &providerErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
