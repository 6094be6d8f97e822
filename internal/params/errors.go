package params

import (
	"errors"
	"fmt"
)

// ErrConfiguration is matched by every ConfigurationError:
//
//	if errors.Is(err, params.ErrConfiguration) {
//	    // nothing was executed
//	}
var ErrConfiguration = errors.New("invalid configuration")

// ConfigurationError reports a malformed parameter space or campaign
// definition. It is raised before any execution starts.
type ConfigurationError struct {
	// Index is the offending record index, or -1 when not record specific.
	Index int

	// Variable is the offending variable name, if any.
	Variable string

	// Reason describes what is wrong.
	Reason string
}

// Configf builds a ConfigurationError that is not tied to a record.
func Configf(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Index: -1, Reason: fmt.Sprintf(format, args...)}
}

func (e *ConfigurationError) Error() string {
	msg := "configuration error"
	if e.Index >= 0 {
		msg += fmt.Sprintf(" in record %d", e.Index)
	}
	if e.Variable != "" {
		msg += fmt.Sprintf(" (variable %q)", e.Variable)
	}
	return msg + ": " + e.Reason
}

// Is makes errors.Is(err, ErrConfiguration) succeed.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}
