package nkv

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/nkv/lib/cache"
	"github.com/ValentinKolb/nkv/lib/device"
	"github.com/ValentinKolb/nkv/lib/listing"
)

// Sentinel errors. Every error returned by this package matches one of them with errors.Is,
// except device failures without a dedicated kind, which are reported as *DeviceError.
var (
	ErrKeyEmpty       = errors.New("key is empty")
	ErrKeyTooLong     = errors.New("key too long")
	ErrValueEmpty     = errors.New("value is empty")
	ErrValueTooLong   = errors.New("value too long")
	ErrBufferTooSmall = errors.New("buffer too small")
	ErrKeyNotFound    = errors.New("key not found")
	ErrKeyExists      = errors.New("key exists")
	ErrPrefixNotFound = errors.New("prefix not found")

	// ErrLock replaces aborting on a failed index or cache lock (the structure was closed)
	ErrLock = errors.New("index or cache unavailable")

	ErrIteratorConsumed = errors.New("iterator already consumed")
	ErrIteratorBusy     = errors.New("iterator in use by another caller")
	ErrNotOpen          = errors.New("instance is not open")
	ErrUnknownContainer = errors.New("unknown container")
	ErrInvalidConfig    = errors.New("invalid config")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrQueueFull        = errors.New("async queue full")
)

// DeviceError passes a device status through that has no dedicated error kind
type DeviceError struct {
	Code device.Status
	Msg  string
}

func (e *DeviceError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("device error %s", e.Code)
	}
	return fmt.Sprintf("device error %s: %s", e.Code, e.Msg)
}

// Error adds the failing operation and key to an error.
type Error struct {
	// Op is the operation that failed (e.g. "store", "list").
	Op string

	// Path is the path address, if the error belongs to one path.
	Path string

	// Key is the key or prefix the operation was called with.
	Key string

	// Size is the buffer size needed, set for ErrBufferTooSmall.
	Size int

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Key != "" {
		msg += fmt.Sprintf(" %q", e.Key)
	}
	if e.Size > 0 {
		return fmt.Sprintf("%s: %v (need %d bytes)", msg, e.Err, e.Size)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// mapDeviceError converts a device error into the error kinds of this package.
// This is the only place device status codes are interpreted.
func mapDeviceError(err error) error {
	if err == nil {
		return nil
	}
	var de *device.Error
	if !errors.As(err, &de) {
		return &DeviceError{Code: device.StatusInternal, Msg: err.Error()}
	}
	switch de.Code {
	case device.StatusKeyNotFound:
		return ErrKeyNotFound
	case device.StatusKeyExists:
		return ErrKeyExists
	case device.StatusBufferTooSmall:
		return ErrBufferTooSmall
	default:
		return &DeviceError{Code: de.Code, Msg: de.Msg}
	}
}

// mapIndexError converts listing and cache errors
func mapIndexError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, listing.ErrClosed), errors.Is(err, cache.ErrClosed):
		return ErrLock
	case errors.Is(err, listing.ErrPrefixNotFound):
		return ErrPrefixNotFound
	default:
		return err
	}
}

// IsNotFound reports whether err means the key does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// IsBufferTooSmall reports whether err means a caller buffer was too small
func IsBufferTooSmall(err error) bool {
	return errors.Is(err, ErrBufferTooSmall)
}

// IsLengthError reports whether err is one of the key or value validation errors
func IsLengthError(err error) bool {
	return errors.Is(err, ErrKeyEmpty) || errors.Is(err, ErrKeyTooLong) ||
		errors.Is(err, ErrValueEmpty) || errors.Is(err, ErrValueTooLong)
}

// DeviceStatus returns the device status carried by err, if any
func DeviceStatus(err error) (device.Status, bool) {
	var de *DeviceError
	if errors.As(err, &de) {
		return de.Code, true
	}
	return device.StatusSuccess, false
}
