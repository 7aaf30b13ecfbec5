package gemlive

import (
	"errors"
	"fmt"
)

// Common error variables
var (
	// ErrClosed is returned when attempting to use a transport that has been closed.
	// The duplex channel is gone for good; start a new session to resume.
	ErrClosed = errors.New("gemlive: connection is closed")

	// ErrInvalidConfig is returned when required configuration fields are missing.
	ErrInvalidConfig = errors.New("gemlive: invalid configuration")

	// ErrConnectionFailed is returned when the duplex channel cannot be opened or fails mid-session.
	ErrConnectionFailed = errors.New("gemlive: connection failed")

	// ErrSendTimeout is returned when sending a message times out.
	ErrSendTimeout = errors.New("gemlive: send timeout")

	// ErrAccessDenied is returned when a capture device is unavailable or permission was refused.
	ErrAccessDenied = errors.New("gemlive: device access denied")

	// ErrProtocol is returned when an inbound message cannot be understood.
	ErrProtocol = errors.New("gemlive: protocol error")

	// ErrEngineClosed is returned by Engine operations after Close.
	ErrEngineClosed = errors.New("gemlive: engine is closed")

	// ErrSuperseded is returned by Start when the session it was opening was
	// stopped or replaced before it became active.
	ErrSuperseded = errors.New("gemlive: session superseded")
)

// ConfigError represents a configuration validation error.
// It provides detailed information about which configuration field is invalid.
type ConfigError struct {
	Field   string // The configuration field that is invalid
	Value   string // The invalid value (if safe to log)
	Message string // Detailed error message
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("gemlive: invalid config field %q (value: %q): %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("gemlive: invalid config field %q: %s", e.Field, e.Message)
}

// Is implements error matching for ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// ConnectionError represents a transport failure, either while opening the
// channel or after it was established.
type ConnectionError struct {
	URL       string // The endpoint (credentials stripped)
	Cause     error  // The underlying error
	Operation string // The operation that failed (e.g., "dial", "handshake", "read")
}

func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("gemlive: %s failed for %q: %v", e.Operation, e.URL, e.Cause)
	}
	return fmt.Sprintf("gemlive: %s failed for %q", e.Operation, e.URL)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for ConnectionError.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnectionFailed
}

// SendError represents an error that occurred while sending a message.
type SendError struct {
	Kind  string // The outbound message kind ("setup", "realtimeInput", "toolResponse")
	Cause error  // The underlying error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("gemlive: failed to send %s message: %v", e.Kind, e.Cause)
}

// Unwrap returns the underlying error.
func (e *SendError) Unwrap() error {
	return e.Cause
}

// IsTimeout returns true if the error was caused by a timeout.
func (e *SendError) IsTimeout() bool {
	return errors.Is(e.Cause, ErrSendTimeout)
}

// AccessError reports that a capture device could not be opened.
type AccessError struct {
	Device string // "microphone" or "camera"
	Cause  error
}

func (e *AccessError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("gemlive: %s access failed: %v", e.Device, e.Cause)
	}
	return fmt.Sprintf("gemlive: %s access failed", e.Device)
}

// Unwrap returns the underlying error.
func (e *AccessError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for AccessError.
func (e *AccessError) Is(target error) bool {
	return target == ErrAccessDenied
}

// ProtocolError represents an inbound message that could not be decoded.
type ProtocolError struct {
	RawData []byte // The raw frame (if available)
	Cause   error  // The underlying parsing error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("gemlive: malformed inbound message: %v", e.Cause)
}

// Unwrap returns the underlying error.
func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for ProtocolError.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// Helper functions for creating specific errors

// NewConfigError creates a new configuration error.
func NewConfigError(field, value, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// NewConnectionError creates a new connection error.
func NewConnectionError(url, operation string, cause error) *ConnectionError {
	return &ConnectionError{
		URL:       url,
		Operation: operation,
		Cause:     cause,
	}
}

// NewSendError creates a new send error.
func NewSendError(kind string, cause error) *SendError {
	return &SendError{
		Kind:  kind,
		Cause: cause,
	}
}

// NewAccessError creates a new device access error.
func NewAccessError(device string, cause error) *AccessError {
	return &AccessError{
		Device: device,
		Cause:  cause,
	}
}

// NewProtocolError creates a new inbound decoding error.
func NewProtocolError(rawData []byte, cause error) *ProtocolError {
	return &ProtocolError{
		RawData: rawData,
		Cause:   cause,
	}
}

// StatusText maps an error to the short, human-readable status shown to the
// user. Internal details never leak into it.
func StatusText(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAccessDenied):
		var ae *AccessError
		if errors.As(err, &ae) && ae.Device == "camera" {
			return "Camera unavailable"
		}
		return "Microphone access denied"
	case errors.Is(err, ErrConnectionFailed), errors.Is(err, ErrClosed):
		return "Connection failed"
	case errors.Is(err, ErrInvalidConfig):
		return "Configuration error"
	default:
		return "Something went wrong"
	}
}
