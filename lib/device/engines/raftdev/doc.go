// Package raftdev replicates a device across several nodes using the Dragonboat raft library.
// The replicated device is itself a device.IDevice, so nKV can open a raftdev path exactly like a
// local memdev path.
//
// Architecture:
//
//   - Device Client (device.go): Implements device.IDevice. Writes (Store, Delete) are encoded as a
//     Command and proposed with SyncPropose. Reads (Retrieve, Exists, ListRange) are encoded as a
//     Query and answered through SyncRead, which is linearizable. GetInfo uses StaleRead.
//
//   - State Machine (statemachine.go): A Dragonboat IConcurrentStateMachine that owns one device per
//     replica. The wrapped device is created through a device.Factory, usually a memdev.
//
//   - Protocol (internal package): Command and Query structures with their serialization.
//
// Iteration:
//
// The native iterator cannot be replicated (handles are local to one replica), so the client
// emulates IterateOpen / IterateNext / IterateClose on top of the replicated ListRange with
// device.RangeIterators.
//
// Snapshots:
//
// Snapshots are written with the wrapped device's Save method and restored with Load. The client
// itself reports StatusUnsupported for Save and Load, snapshotting is handled by raft.
//
// Retries:
//
// Proposals and reads that fail with dragonboat.ErrSystemBusy are retried a few times with a short
// delay. Everything else is returned as a device error with StatusInternal, or with the status code
// the state machine produced.
//
// Example:
//
//	nh, err := dragonboat.NewNodeHost(nodeHostConfig)
//	if err != nil { ... }
//
//	factory := func() device.IDevice { return memdev.MustNewMemDevice(nil) }
//	err = nh.StartConcurrentReplica(members, false, raftdev.CreateStateMachineFactory(factory), shardConfig)
//	if err != nil { ... }
//
//	dev := raftdev.NewRaftDevice(nh, shardID, 5*time.Second)
package raftdev
