package raftdev

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/ValentinKolb/nkv/lib/device"
	"github.com/ValentinKolb/nkv/lib/device/engines/raftdev/internal"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	retries = 5
	log     = logger.GetLogger("device")
)

// raftDevice is the client side of a replicated device.
// Writes are proposed to the raft log, reads use linearizable SyncRead.
type raftDevice struct {
	nh        *dragonboat.NodeHost
	shardID   uint64
	cs        *client.Session
	timeout   time.Duration
	iterators *device.RangeIterators
}

// NewRaftDevice creates a device that replicates every write through the raft shard shardID
// of the given NodeHost. The shard must have been started with CreateStateMachineFactory.
// Native iteration is emulated on top of the ranged listing.
func NewRaftDevice(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration) device.IDevice {
	dev := &raftDevice{
		nh:      nh,
		shardID: shardID,
		cs:      nh.GetNoOPSession(shardID),
		timeout: timeout,
	}
	dev.iterators = device.NewRangeIterators(dev.ListRange, 256)
	return dev
}

// --------------------------------------------------------------------------
// Internal write and read operations
// --------------------------------------------------------------------------

// write proposes cmd and waits until it is applied.
// ErrSystemBusy is retried up to `retries` times.
func (d *raftDevice) write(cmd internal.Command) error {
	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		res, err := d.nh.SyncPropose(ctx, d.cs, cmd.Serialize())
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: system busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(d.timeout / 10)
			continue
		}
		if err != nil {
			return device.NewError(device.StatusInternal, err.Error())
		}
		if status := device.Status(res.Value); status != device.StatusSuccess {
			return device.NewError(status, string(res.Data))
		}
		return nil
	}
	return device.NewError(device.StatusBusy, "raft shard stayed busy")
}

// read runs a query on the state machine and casts the result to R.
// If stale is set the faster StaleRead is used instead of SyncRead.
func read[R any](d *raftDevice, q internal.Query, stale bool) (R, error) {
	var zero R
	for i := 0; i < retries; i++ {
		var (
			res interface{}
			err error
		)
		if stale {
			res, err = d.nh.StaleRead(d.shardID, q)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			res, err = d.nh.SyncRead(ctx, d.shardID, q)
			cancel()
		}

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: system busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(d.timeout / 10)
			continue
		}
		if err != nil {
			var de *device.Error
			if errors.As(err, &de) {
				return zero, de
			}
			return zero, device.NewError(device.StatusInternal, err.Error())
		}

		casted, ok := res.(R)
		if !ok {
			return zero, device.Errorf(device.StatusInternal, "unexpected type: received %T, expected %T", res, zero)
		}
		return casted, nil
	}
	return zero, device.NewError(device.StatusBusy, "raft shard stayed busy")
}

// --------------------------------------------------------------------------
// Interface Methods (docs see device/device.go)
// --------------------------------------------------------------------------

func (d *raftDevice) Store(key string, value []byte, opts device.StoreOptions) error {
	if key == "" {
		return device.NewError(device.StatusInvalidArgument, "empty key")
	}
	cmd := internal.Command{Type: internal.CommandTStore, Key: key, Value: value}
	if opts.Idempotent {
		cmd.Flags |= internal.FlagIdempotent
	}
	return d.write(cmd)
}

func (d *raftDevice) Delete(key string) error {
	if key == "" {
		return device.NewError(device.StatusInvalidArgument, "empty key")
	}
	return d.write(internal.Command{Type: internal.CommandTDelete, Key: key})
}

func (d *raftDevice) Retrieve(key string, buf []byte) (int, error) {
	if key == "" {
		return 0, device.NewError(device.StatusInvalidArgument, "empty key")
	}
	res, err := read[internal.RetrieveResult](d, internal.Query{Type: internal.QueryTRetrieve, Key: key, Max: len(buf)}, false)
	if err != nil {
		return 0, err
	}
	copy(buf, res.Value)
	if res.ActualLen > len(buf) {
		return res.ActualLen, device.Errorf(device.StatusBufferTooSmall,
			"value of %d bytes does not fit into buffer of %d bytes", res.ActualLen, len(buf))
	}
	return res.ActualLen, nil
}

func (d *raftDevice) Exists(key string) (bool, error) {
	if key == "" {
		return false, device.NewError(device.StatusInvalidArgument, "empty key")
	}
	return read[bool](d, internal.Query{Type: internal.QueryTExists, Key: key}, false)
}

func (d *raftDevice) IterateOpen(prefix string) (device.IteratorHandle, error) {
	return d.iterators.Open(prefix), nil
}

func (d *raftDevice) IterateNext(h device.IteratorHandle, buf []byte) (device.Batch, error) {
	return d.iterators.Next(h, buf)
}

func (d *raftDevice) IterateClose(h device.IteratorHandle) error {
	return d.iterators.Close(h)
}

func (d *raftDevice) ListRange(prefix, startAfter string, max int) ([]string, bool, error) {
	if max <= 0 {
		return nil, false, device.Errorf(device.StatusInvalidArgument, "max must be positive, got %d", max)
	}
	res, err := read[internal.ListResult](d, internal.Query{
		Type:       internal.QueryTListRange,
		Key:        prefix,
		StartAfter: startAfter,
		Max:        max,
	}, false)
	if err != nil {
		return nil, false, err
	}
	return res.Keys, res.More, nil
}

// Save is not supported, replicas snapshot through the raft log
func (d *raftDevice) Save(io.Writer) error {
	return device.NewError(device.StatusUnsupported, "raftdev snapshots are managed by raft")
}

// Load is not supported, replicas recover through the raft log
func (d *raftDevice) Load(io.Reader) error {
	return device.NewError(device.StatusUnsupported, "raftdev snapshots are managed by raft")
}

const supportedFeatures = device.FeatureSet(device.FeatureStore |
	device.FeatureStoreIfAbsent |
	device.FeatureRetrieve |
	device.FeatureDelete |
	device.FeatureExists |
	device.FeatureIterate |
	device.FeatureListRange)

func (d *raftDevice) SupportsFeature(feature device.Feature) bool {
	return supportedFeatures.Supports(feature)
}

// GetInfo returns the info of the local replica (stale read)
func (d *raftDevice) GetInfo() (device.Info, error) {
	info, err := read[device.Info](d, internal.Query{Type: internal.QueryTInfo}, true)
	if err != nil {
		return device.Info{}, err
	}
	info.DeviceType = device.ImplRaftdev
	info.SupportedFeatures = supportedFeatures.List()
	return info, nil
}

// Close releases client side iterator state. The NodeHost is owned by the caller.
func (d *raftDevice) Close() error {
	return nil
}
