package config

import (
	"errors"
	"fmt"
)

// ErrConfiguration marks every error produced while loading settings.
var ErrConfiguration = errors.New("invalid configuration")

// ConfigurationError reports a structurally invalid setting.
type ConfigurationError struct {
	Field string
	Err   error
}

func newConfigurationError(field string, err error) *ConfigurationError {
	return &ConfigurationError{Field: field, Err: err}
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrConfiguration, e.Field, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *ConfigurationError) Unwrap() []error {
	return []error{ErrConfiguration, e.Err}
}
