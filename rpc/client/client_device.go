package client

import (
	"io"

	"github.com/ValentinKolb/nkv/lib/device"
	"github.com/ValentinKolb/nkv/rpc/common"
	"github.com/ValentinKolb/nkv/rpc/serializer"
	"github.com/ValentinKolb/nkv/rpc/transport"
)

// listPageSize is the number of keys fetched per request by the emulated native iterator
const listPageSize = 512

const remoteFeatures = device.FeatureSet(device.FeatureStore | device.FeatureStoreIfAbsent | device.FeatureRetrieve |
	device.FeatureDelete | device.FeatureExists | device.FeatureIterate | device.FeatureListRange)

// NewRPCDevice connects the transport and returns a device.IDevice whose commands are executed
// by target targetID of the server.
func NewRPCDevice(
	targetID uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (device.IDevice, error) {
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	d := &rpcDevice{
		rpcClientAdapter: rpcClientAdapter{
			targetID:   targetID,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}
	d.iterators = device.NewRangeIterators(d.ListRange, listPageSize)
	return d, nil
}

type rpcDevice struct {
	rpcClientAdapter
	iterators *device.RangeIterators
}

// --------------------------------------------------------------------------
// Interface Methods (docu see device.IDevice)
// --------------------------------------------------------------------------

func (d *rpcDevice) Store(key string, value []byte, opts device.StoreOptions) error {
	_, err := d.invoke(common.NewStoreRequest(key, value, opts.Idempotent))
	return err
}

func (d *rpcDevice) Delete(key string) error {
	_, err := d.invoke(common.NewDeleteRequest(key))
	return err
}

func (d *rpcDevice) Retrieve(key string, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, device.NewError(device.StatusInvalidArgument, "retrieve buffer is empty")
	}
	resp, err := d.invoke(common.NewRetrieveRequest(key, len(buf)))
	if resp == nil {
		return 0, err
	}
	copy(buf, resp.Value)
	return int(resp.Size), err
}

func (d *rpcDevice) Exists(key string) (bool, error) {
	resp, err := d.invoke(common.NewExistsRequest(key))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (d *rpcDevice) IterateOpen(prefix string) (device.IteratorHandle, error) {
	return d.iterators.Open(prefix), nil
}

func (d *rpcDevice) IterateNext(h device.IteratorHandle, buf []byte) (device.Batch, error) {
	return d.iterators.Next(h, buf)
}

func (d *rpcDevice) IterateClose(h device.IteratorHandle) error {
	return d.iterators.Close(h)
}

func (d *rpcDevice) ListRange(prefix, startAfter string, max int) ([]string, bool, error) {
	if max <= 0 {
		return nil, false, device.NewError(device.StatusInvalidArgument, "max must be positive")
	}
	resp, err := d.invoke(common.NewListRangeRequest(prefix, startAfter, max))
	if err != nil {
		return nil, false, err
	}
	return resp.Keys, resp.Ok, nil
}

// Save is handled by the server side device
func (d *rpcDevice) Save(io.Writer) error {
	return device.NewError(device.StatusUnsupported, "save is not supported by remote devices")
}

// Load is handled by the server side device
func (d *rpcDevice) Load(io.Reader) error {
	return device.NewError(device.StatusUnsupported, "load is not supported by remote devices")
}

func (d *rpcDevice) SupportsFeature(feature device.Feature) bool {
	return remoteFeatures.Supports(feature)
}

// GetInfo returns the info of the remote device. DeviceType is ImplRemote, the remote device's own
// info is kept in Metadata.
func (d *rpcDevice) GetInfo() (device.Info, error) {
	resp, err := d.invoke(common.NewInfoRequest())
	if err != nil {
		return device.Info{}, err
	}
	remote, err := resp.DecodeInfo()
	if err != nil {
		return device.Info{}, err
	}
	return device.Info{
		SizeBytes:         remote.SizeBytes,
		NumKeys:           remote.NumKeys,
		DeviceType:        device.ImplRemote,
		SupportedFeatures: remoteFeatures.List(),
		Metadata: map[string]interface{}{
			"target_id":   d.targetID,
			"endpoints":   d.config.Transport.Endpoints,
			"serializer":  d.serializer.Name(),
			"remote_type": remote.DeviceType,
			"remote_meta": remote.Metadata,
		},
	}, nil
}

// Close closes the transport. The server side device stays open.
func (d *rpcDevice) Close() error {
	return d.transport.Close()
}
