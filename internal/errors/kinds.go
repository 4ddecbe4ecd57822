package errors

import (
	"fmt"
)

// ConfigTypeError reports a configuration value that is missing or cannot be
// coerced to the type its accessor returns.
type ConfigTypeError struct {
	Key  string
	Want string
	// Got is the raw value found in the document, nil when the key is absent.
	Got interface{}
}

func (e *ConfigTypeError) Error() string {
	if e.Got == nil {
		return fmt.Sprintf("config: %s: missing required %s value", e.Key, e.Want)
	}
	return fmt.Sprintf("config: %s: cannot use %v (%T) as %s", e.Key, e.Got, e.Got, e.Want)
}

// ConfigShapeError reports a derived field whose length disagrees with the
// declared parameter count.
type ConfigShapeError struct {
	Field string
	Got   int
	Want  string
}

func (e *ConfigShapeError) Error() string {
	return fmt.Sprintf("config: %s has %d entries, want %s", e.Field, e.Got, e.Want)
}

// ConfigValueError reports a well-typed configuration value that is not
// acceptable, such as a remote run without an endpoint.
type ConfigValueError struct {
	Key    string
	Reason string
}

func (e *ConfigValueError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

// CheckpointNotFoundError is returned when no restorable checkpoint exists.
// There is no untrained fallback.
type CheckpointNotFoundError struct {
	Dir    string
	Reason string
}

func (e *CheckpointNotFoundError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("no checkpoint available in %q", e.Dir)
	}
	return fmt.Sprintf("no checkpoint available in %q: %s", e.Dir, e.Reason)
}

// ProtocolError is returned when the remote objective channel produced a
// malformed or absent reply. The channel cannot be reused afterwards.
type ProtocolError struct {
	Endpoint string
	Reason   string
	Err      error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("protocol error on %s: %s", e.Endpoint, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
