package listing

import "errors"

var (
	// ErrClosed is returned by every operation after Close. It replaces aborting on a failed lock.
	ErrClosed = errors.New("listing: index is closed")

	// ErrPrefixNotFound is returned by Remove if the prefix has no entry
	ErrPrefixNotFound = errors.New("listing: prefix not found")

	// ErrChildNotFound is returned by Remove if the prefix exists but does not contain the child
	ErrChildNotFound = errors.New("listing: child not found")
)
