package raftdev

import (
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/nkv/lib/device"
	"github.com/ValentinKolb/nkv/lib/device/engines/raftdev/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// DeviceStateMachine applies replicated commands to a local device
type DeviceStateMachine struct {
	replicaID uint64
	shardID   uint64
	dev       device.IDevice
}

// CreateStateMachineFactory returns the factory dragonboat uses to create a state machine per replica.
// devFactory creates the local device every replica applies the log to.
func CreateStateMachineFactory(devFactory device.Factory) func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		return &DeviceStateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			dev:       devFactory(),
		}
	}
}

// Lookup handles read-only queries against the local device.
func (fsm *DeviceStateMachine) Lookup(itf interface{}) (interface{}, error) {
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, device.Errorf(device.StatusInternal, "invalid query type: %T", itf)
	}

	switch q.Type {
	case internal.QueryTRetrieve:
		if !fsm.dev.SupportsFeature(device.FeatureRetrieve) {
			return nil, device.NewError(device.StatusUnsupported, "Retrieve is not supported")
		}
		buf := make([]byte, q.Max)
		n, err := fsm.dev.Retrieve(q.Key, buf)
		if err != nil && device.StatusOf(err) != device.StatusBufferTooSmall {
			return nil, err
		}
		if n < len(buf) {
			buf = buf[:n]
		}
		return internal.RetrieveResult{Value: buf, ActualLen: n}, nil
	case internal.QueryTExists:
		if !fsm.dev.SupportsFeature(device.FeatureExists) {
			return nil, device.NewError(device.StatusUnsupported, "Exists is not supported")
		}
		return fsm.dev.Exists(q.Key)
	case internal.QueryTListRange:
		if !fsm.dev.SupportsFeature(device.FeatureListRange) {
			return nil, device.NewError(device.StatusUnsupported, "ListRange is not supported")
		}
		keys, more, err := fsm.dev.ListRange(q.Key, q.StartAfter, q.Max)
		if err != nil {
			return nil, err
		}
		return internal.ListResult{Keys: keys, More: more}, nil
	case internal.QueryTInfo:
		return fsm.dev.GetInfo()
	default:
		return nil, device.Errorf(device.StatusInvalidArgument, "unknown query operation: %d", q.Type)
	}
}

// Update applies committed commands to the local device.
// The device status of every command is returned as the entry result value.
func (fsm *DeviceStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {
	if len(entries) == 0 {
		return entries, nil
	}

	start := time.Now()

	for idx, e := range entries {
		if len(e.Cmd) == 0 {
			entries[idx].Result = result(device.StatusInvalidArgument, "empty command ignored")
			continue
		}

		cmd := internal.Command{}
		if err := cmd.Deserialize(e.Cmd); err != nil {
			entries[idx].Result = result(device.StatusInternal, fmt.Sprintf("failed to deserialize command: %v", err))
			continue
		}

		feat, err := cmd.Type.ToFeature(cmd.Flags)
		if err != nil {
			entries[idx].Result = result(device.StatusInvalidArgument, err.Error())
			continue
		}
		if !fsm.dev.SupportsFeature(feat) {
			entries[idx].Result = result(device.StatusUnsupported, fmt.Sprintf("%s is not supported", cmd.Type))
			continue
		}

		switch cmd.Type {
		case internal.CommandTStore:
			err = fsm.dev.Store(cmd.Key, cmd.Value, device.StoreOptions{Idempotent: cmd.Flags&internal.FlagIdempotent != 0})
		case internal.CommandTDelete:
			err = fsm.dev.Delete(cmd.Key)
		}
		if err != nil {
			entries[idx].Result = result(device.StatusOf(err), err.Error())
			continue
		}
		entries[idx].Result = result(device.StatusSuccess, "")
	}

	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("state machine update of %d entries took %.2fms", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

func result(status device.Status, msg string) sm.Result {
	return sm.Result{Value: uint64(status), Data: []byte(msg)}
}

// PrepareSnapshot is a no-op, the device supports fuzzy snapshots
func (fsm *DeviceStateMachine) PrepareSnapshot() (interface{}, error) {
	return nil, nil
}

// SaveSnapshot writes a fuzzy device snapshot
func (fsm *DeviceStateMachine) SaveSnapshot(_ interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	if !fsm.dev.SupportsFeature(device.FeatureSave) {
		return fmt.Errorf("the replicated device does not support Save()")
	}
	return fsm.dev.Save(writer)
}

// RecoverFromSnapshot restores the device from a snapshot
func (fsm *DeviceStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	if !fsm.dev.SupportsFeature(device.FeatureLoad) {
		return fmt.Errorf("the replicated device does not support Load()")
	}
	return fsm.dev.Load(r)
}

// Close closes the local device
func (fsm *DeviceStateMachine) Close() error {
	return fsm.dev.Close()
}
