// Package domain contains the pure value types, error taxonomy and
// collaborator interfaces shared by the pipeline modules. It has no
// infrastructure dependencies.
package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy for the pipeline.
//
// ErrInsufficientData and ErrDataProvider are always local degradations:
// the affected instrument, date or window is excluded and recorded, never
// aborting a run. Only ErrInvalidConfiguration is fatal, and it is raised
// before any window executes.
var (
	ErrInsufficientData     = errors.New("insufficient data")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrDataProvider         = errors.New("data provider failure")
)

// InsufficientDataf wraps ErrInsufficientData with a formatted reason.
func InsufficientDataf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInsufficientData}, args...)...)
}

// InvalidConfigurationf wraps ErrInvalidConfiguration with a formatted reason.
func InvalidConfigurationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfiguration}, args...)...)
}

// DataProviderErrorf wraps ErrDataProvider with a formatted reason.
func DataProviderErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrDataProvider}, args...)...)
}
