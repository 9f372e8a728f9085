package zone

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable means the backend or one of its keys could not be read.
	ErrUnavailable = errors.New("config unavailable")
	// ErrWriteRejected means the backend refused to persist a key.
	ErrWriteRejected = errors.New("config write rejected")
)

// ConfigError is a configuration failure for one key. Err is ErrUnavailable
// or ErrWriteRejected; Cause is the backend error.
type ConfigError struct {
	Op    string // "load", "save" or "flush"
	Key   string
	Err   error
	Cause error
}

func (e *ConfigError) Error() string {
	msg := "zone: " + e.Op
	if e.Key != "" {
		msg += " " + e.Key
	}
	msg += ": " + e.Err.Error()
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

func (e *ConfigError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}
