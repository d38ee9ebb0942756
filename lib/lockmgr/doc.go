// Package lockmgr implements key locks on top of any device.IDevice.
//
// The lock manager keeps no state of its own: every lock is a record stored on the device under
// DefaultNamespace + key. It is therefore safe to create several lock managers for the same device,
// even one per call. nKV uses it for Path.LockKVP and Path.UnlockKVP and the CLI exposes it as
// "nkv lock".
//
// Implementation Approach:
//
//	- Lock Acquisition: The record is written with an idempotent Store, which succeeds for exactly
//	  one caller. The record holds a random owner id (uuid) and the expiry time.
//
//	- Expiry: Devices have no TTL, so an expired record is only removed by the next AcquireLock
//	  that runs into it. That caller deletes the record and retries the idempotent Store once.
//
//	- Safe Release: ReleaseLock compares the stored owner id with the caller's before deleting.
//
// Distributed Considerations:
//
//	On a raftdev device the idempotent Store is decided by the raft log, so locks are consistent
//	across all replicas.
//
// Usage Example:
//
//	lm := lockmgr.NewLockManager(dev)
//
//	ok, owner, err := lm.AcquireLock("resource:123", 30*time.Second)
//	if err != nil { ... }
//	if ok {
//	    // use the resource
//	    _, _ = lm.ReleaseLock("resource:123", owner)
//	}
package lockmgr
