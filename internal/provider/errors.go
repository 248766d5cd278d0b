package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// TransportError is a failure to obtain a response from the provider.
type TransportError struct {
	// StatusCode is the HTTP status, or 0 for network failures.
	StatusCode int

	// Temporary marks failures worth retrying.
	Temporary bool

	// Body is a truncated copy of the provider's error body.
	Body string

	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("provider status %d: %s", e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("provider status %d", e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("provider transport: %v", e.Err)
	case e.Body != "":
		return "provider error: " + e.Body
	default:
		return "provider transport error"
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError classifies an HTTP error status.
func StatusError(status int, body string) *TransportError {
	return &TransportError{StatusCode: status, Body: body, Temporary: temporaryStatus(status)}
}

// NetworkError wraps a failure below HTTP. Caller cancellation is not
// temporary; everything else (timeouts, resets, DNS) is.
func NetworkError(err error) *TransportError {
	temporary := !errors.Is(err, context.Canceled)
	return &TransportError{Err: err, Temporary: temporary}
}

func temporaryStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}

// IsTransient reports whether err is a provider failure worth retrying.
func IsTransient(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Temporary
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
