package device

import (
	"fmt"
	"io"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMemdev  Implementation = "memdev"
	ImplRaftdev Implementation = "raftdev"
	ImplRemote  Implementation = "remote"
)

// Feature represents device capabilities as bit flags
type Feature uint64

const (
	FeatureStore          Feature = 1 << iota // Support for Store operations
	FeatureStoreIfAbsent                      // Support for idempotent (store if absent) writes
	FeatureRetrieve                           // Support for Retrieve operations
	FeatureDelete                             // Support for Delete operations
	FeatureExists                             // Support for Exists operations
	FeatureIterate                            // Support for the native batch iterator
	FeatureListRange                          // Support for the native ranged listing
	FeatureSave                               // Support for Save operations
	FeatureLoad                               // Support for Load operations
)

func (f Feature) String() string {
	switch f {
	case FeatureStore:
		return "Store"
	case FeatureStoreIfAbsent:
		return "StoreIfAbsent"
	case FeatureRetrieve:
		return "Retrieve"
	case FeatureDelete:
		return "Delete"
	case FeatureExists:
		return "Exists"
	case FeatureIterate:
		return "Iterate"
	case FeatureListRange:
		return "ListRange"
	case FeatureSave:
		return "Save"
	case FeatureLoad:
		return "Load"
	default:
		return "Unknown"
	}
}

// Info describes a device and its current contents
type Info struct {
	SizeBytes         int            `json:"size_bytes"`
	NumKeys           int            `json:"num_keys"`
	DeviceType        Implementation `json:"device_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// StoreOptions modifies the behaviour of a single Store call
type StoreOptions struct {
	// Idempotent makes the write fail with StatusKeyExists if the key is already present
	Idempotent bool
}

// IteratorHandle identifies an open native iterator on a device
type IteratorHandle uint64

// Factory creates a new device. It is used by engines that wrap other engines (e.g. raft replication).
type Factory func() IDevice

// --------------------------------------------------------------------------
// Device Interface
// --------------------------------------------------------------------------

// IDevice is the command surface of a single key-value device (a "path").
// Keys are opaque byte strings, values are raw bytes.
// All errors returned by an implementation must be of type *Error so the caller can map the status code.
// Implementations can vary in their feature support, which can be queried with SupportsFeature.
type IDevice interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Store inserts or overwrites the value for the key.
	// If opts.Idempotent is set and the key exists, StatusKeyExists is returned and nothing is written.
	Store(key string, value []byte, opts StoreOptions) (err error)

	// Delete removes the key. StatusKeyNotFound is returned if the key does not exist.
	Delete(key string) (err error)

	// --------------------------------------------------------------------------
	// Read Operations
	// --------------------------------------------------------------------------

	// Retrieve copies the value for the key into buf and returns the actual length of the value.
	// If buf is shorter than the value, the first len(buf) bytes are copied and StatusBufferTooSmall
	// is returned together with the actual length.
	Retrieve(key string, buf []byte) (actualLen int, err error)

	// Exists reports whether the key is present.
	Exists(key string) (ok bool, err error)

	// --------------------------------------------------------------------------
	// Native Iteration
	// --------------------------------------------------------------------------

	// IterateOpen opens a native iterator over all keys that start with prefix.
	IterateOpen(prefix string) (h IteratorHandle, err error)

	// IterateNext fills buf with the next batch of length-prefixed key records (see Batch).
	// The returned Batch has End set once the iterator is exhausted; the last batch may still carry keys.
	IterateNext(h IteratorHandle, buf []byte) (batch Batch, err error)

	// IterateClose releases an iterator. Closing an unknown handle returns StatusIteratorNotFound.
	IterateClose(h IteratorHandle) (err error)

	// ListRange returns up to max keys with the given prefix that sort strictly after startAfter,
	// in lexicographic order. more reports whether further keys exist.
	ListRange(prefix, startAfter string, max int) (keys []string, more bool, err error)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save persists the current state of the device to the provided io.Writer.
	Save(w io.Writer) (err error)

	// Load restores the device state from the provided io.Reader.
	Load(r io.Reader) (err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the device supports the specified feature(s).
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the device.
	GetInfo() (info Info, err error)

	// Close closes the device.
	Close() (err error)
}

// FeatureSet is a convenience helper for implementations that store their features as a bit mask
type FeatureSet Feature

// Supports reports whether all bits of f are part of the set
func (fs FeatureSet) Supports(f Feature) bool {
	return Feature(fs)&f == f
}

// List returns all single features contained in the set
func (fs FeatureSet) List() []Feature {
	var out []Feature
	for f := FeatureStore; f <= FeatureLoad; f <<= 1 {
		if fs.Supports(f) {
			out = append(out, f)
		}
	}
	return out
}

func (fs FeatureSet) String() string {
	return fmt.Sprintf("%v", fs.List())
}
