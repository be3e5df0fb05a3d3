package device

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Caller-facing errors. All of them are returned to the immediate caller as a
// failed result; none are retried.
var (
	ErrInvalidIdentifierFormat = errors.New("invalid UUID format")
	ErrMissingFilters          = errors.New("filters must be provided unless acceptAllDevices is set")
	ErrInvalidArgument         = errors.New("invalid argument")
	ErrMissingCommand          = errors.New("missing `command`")
	ErrInvalidArgsShape        = errors.New("`args` must be an array")
	ErrUnknownCommand          = errors.New("unknown command")
	ErrChannelClosed           = errors.New("native channel closed")
)

// Sentinels matched by NotFoundError.Is.
var (
	ErrServiceNotFound        = &NotFoundError{Resource: "service"}
	ErrCharacteristicNotFound = &NotFoundError{Resource: "characteristic"}
)

// NotFoundError represents a singular lookup that matched nothing
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // One or more identifiers (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %s not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %s not found in service %s", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// Is allows errors.Is to compare NotFoundError values by Resource
func (e *NotFoundError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*NotFoundError)
	if !ok {
		return false
	}
	return e.Resource == t.Resource
}

// NativeError carries the error payload of a native reply unmodified.
type NativeError struct {
	Command string
	Payload json.RawMessage
}

// Error returns the payload as text: JSON strings are unquoted, anything
// else is returned as its JSON encoding.
func (e *NativeError) Error() string {
	var s string
	if err := json.Unmarshal(e.Payload, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(e.Payload))
}

// IsNativeError reports whether err carries a native reply error
func IsNativeError(err error) bool {
	var nerr *NativeError
	return errors.As(err, &nerr)
}
