package delivery

import (
	"errors"
	"fmt"
)

// Coordinator errors.
var (
	ErrUnknownChannel = errors.New("unknown channel")
	ErrNoDispatcher   = errors.New("no dispatcher registered for channel")
	ErrNothingToRetry = errors.New("no retryable attempts in request")
)

// ConfigurationError indicates a dispatcher or coordinator was constructed
// with invalid settings. Raised at startup, never during delivery.
type ConfigurationError struct {
	Component string
	Message   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s configuration: %s", e.Component, e.Message)
}
