package waterfall

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is wrapped by every rejected configuration value
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrAlreadyRunning is returned when Start is called on a running loop
	ErrAlreadyRunning = errors.New("acquisition loop is already running")

	// ErrModeNotActive is returned when the provider declines to enter spectrum mode
	ErrModeNotActive = errors.New("spectrum mode not active")
)

// ConfigError describes a configuration value rejected by a setter
type ConfigError struct {
	Field string
	Value any
	msg   string
}

func newConfigError(field string, value any, format string, args ...any) *ConfigError {
	return &ConfigError{
		Field: field,
		Value: value,
		msg:   fmt.Sprintf(format, args...),
	}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s: %v given: %s", ErrInvalidConfig, e.Field, e.Value, e.msg)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}
