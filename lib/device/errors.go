package device

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Status Codes
// --------------------------------------------------------------------------

// Status is the result code of a device command
type Status uint32

const (
	StatusSuccess          Status = iota // 0: Command executed successfully.
	StatusKeyNotFound                    // 1: The key does not exist.
	StatusKeyExists                      // 2: Idempotent store on an existing key.
	StatusBufferTooSmall                 // 3: The caller buffer cannot hold the value.
	StatusInvalidArgument                // 4: Malformed key, value or handle.
	StatusIteratorNotFound               // 5: Unknown or already closed iterator handle.
	StatusUnsupported                    // 6: Operation is not supported by the device.
	StatusBusy                           // 7: The device is temporarily unable to serve the command.
	StatusInternal                       // 8: Command failed due to an internal error.
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusKeyNotFound:
		return "KeyNotFound"
	case StatusKeyExists:
		return "KeyExists"
	case StatusBufferTooSmall:
		return "BufferTooSmall"
	case StatusInvalidArgument:
		return "InvalidArgument"
	case StatusIteratorNotFound:
		return "IteratorNotFound"
	case StatusUnsupported:
		return "Unsupported"
	case StatusBusy:
		return "Busy"
	case StatusInternal:
		return "Internal"
	default:
		return fmt.Sprintf("Unknown(%d)", uint32(s))
	}
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error wraps a device status code and a message
type Error struct {
	Code Status // The status code
	Msg  string // The error message
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("device error (status %s)", e.Code)
	}
	return fmt.Sprintf("device error (status %s): %s", e.Code, e.Msg)
}

// Is makes errors.Is match on the status code alone
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// NewError creates a new device error with the given code and message.
func NewError(code Status, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Errorf creates a new device error with a formatted message.
func Errorf(code Status, format string, args ...interface{}) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// StatusOf extracts the status code from err.
// nil maps to StatusSuccess, errors that are not device errors map to StatusInternal.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return StatusInternal
}

// IsNotFound reports whether err carries StatusKeyNotFound
func IsNotFound(err error) bool {
	return StatusOf(err) == StatusKeyNotFound
}
