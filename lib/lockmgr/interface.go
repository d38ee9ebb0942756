package lockmgr

import "time"

// ILockManager defines the interface for a key lock provider.
type ILockManager interface {
	// AcquireLock takes the lock for key. A timeout of zero means the lock never expires.
	// ok is false if someone else holds a lock that has not expired yet.
	AcquireLock(key string, timeout time.Duration) (ok bool, ownerID []byte, err error)

	// ReleaseLock releases the lock for key if it is held by ownerID.
	// ok is also true if the lock did not exist.
	ReleaseLock(key string, ownerID []byte) (ok bool, err error)
}
