package server

import (
	"fmt"

	"github.com/ValentinKolb/nkv/lib/device"
	"github.com/ValentinKolb/nkv/rpc/common"
)

const (
	// maxRetrieveSize bounds the buffer a client may ask the server to allocate for one retrieve
	maxRetrieveSize = 64 << 20
	// maxListRange bounds the number of keys returned by one ListRange request
	maxListRange = 64 * 1024
)

// NewDeviceServerAdapter creates the adapter serving the device.IDevice command set
func NewDeviceServerAdapter() IRPCServerAdapter {
	return &deviceServerAdapterImpl{}
}

type deviceServerAdapterImpl struct{}

func (adapter *deviceServerAdapterImpl) Handle(req *common.Message, dev device.IDevice) *common.Message {
	if dev == nil {
		return common.NewErrorResponse("handler: device is nil")
	}

	switch req.MsgType {
	case common.MsgTDevStore:
		err := dev.Store(req.Key, req.Value, device.StoreOptions{Idempotent: req.Ok})
		return common.NewStoreResponse(err)

	case common.MsgTDevRetrieve:
		if req.Size == 0 || req.Size > maxRetrieveSize {
			return common.NewRetrieveResponse(nil, 0,
				device.Errorf(device.StatusInvalidArgument, "retrieve size %d out of range (1..%d)", req.Size, maxRetrieveSize))
		}
		buf := make([]byte, req.Size)
		n, err := dev.Retrieve(req.Key, buf)
		return common.NewRetrieveResponse(buf[:min(n, len(buf))], n, err)

	case common.MsgTDevDelete:
		return common.NewDeleteResponse(dev.Delete(req.Key))

	case common.MsgTDevExists:
		ok, err := dev.Exists(req.Key)
		return common.NewExistsResponse(ok, err)

	case common.MsgTDevListRange:
		limit := int(min(req.Size, maxListRange))
		if limit == 0 {
			limit = maxListRange
		}
		keys, more, err := dev.ListRange(req.Key, req.StartAfter, limit)
		if keys == nil && err == nil {
			keys = []string{}
		}
		return common.NewListRangeResponse(keys, more, err)

	case common.MsgTDevInfo:
		info, err := dev.GetInfo()
		return common.NewInfoResponse(info, err)

	default:
		return common.NewErrorResponse(fmt.Sprintf("device adapter: unsupported message type %s", req.MsgType))
	}
}
