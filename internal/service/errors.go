package service

import (
	"errors"
	"fmt"

	"github.com/jackfruitco/simworks-sub000/internal/identity"
)

// ConfigError reports a dependency that could not be resolved while
// preparing a call. It is fatal and never retried.
type ConfigError struct {
	Service    identity.Identity
	Dependency string
	Message    string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("service %s: %s: %s", e.Service, e.Dependency, e.Message)
}

// IsConfigError reports whether err is or wraps a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// CallError wraps the failure of a call that reached the outbox.
type CallError struct {
	CorrelationID string
	State         State
	Err           error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("call %s failed in %s: %v", e.CorrelationID, e.State, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }
