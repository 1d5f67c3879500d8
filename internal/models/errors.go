package models

import (
	"errors"
	"fmt"
)

var (
	// ErrDegenerateImage reports input whose values make a stage numerically
	// undefined, e.g. an all-zero channel that cannot be max-normalized.
	ErrDegenerateImage = errors.New("degenerate image")

	// ErrOutputDirMissing reports that the configured output directory does not exist
	ErrOutputDirMissing = errors.New("output directory does not exist")
)

// ConfigError reports an option value outside the recognized set
type ConfigError struct {
	// Option is the configuration key, e.g. "object_properties"
	Option string

	// Value is the offending value
	Value interface{}

	// Reason explains what was expected
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Option, e.Value, e.Reason)
}

// Degenerate wraps ErrDegenerateImage with a description
func Degenerate(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrDegenerateImage, fmt.Sprintf(format, args...))
}
