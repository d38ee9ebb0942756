package client

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/nkv/lib/device"
	"github.com/ValentinKolb/nkv/rpc/common"
	"github.com/ValentinKolb/nkv/rpc/serializer"
	"github.com/ValentinKolb/nkv/rpc/transport"
	"github.com/ValentinKolb/nkv/rpc/transport/http"
	"github.com/ValentinKolb/nkv/rpc/transport/tcp"
	"github.com/ValentinKolb/nkv/rpc/transport/unix"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// rpcClientAdapter stores everything needed to send requests to one target
type rpcClientAdapter struct {
	targetID   uint64
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// invoke sends a request and decodes the response.
// Failures of the transport or the codec are returned as StatusInternal device errors.
// A device error reported by the server is returned together with the response, so callers can
// still read fields like the actual length of a short retrieve.
func (a *rpcClientAdapter) invoke(req *common.Message) (*common.Message, error) {
	reqBytes, err := a.serializer.Serialize(*req)
	if err != nil {
		return nil, device.Errorf(device.StatusInternal, "rpc: serialize request: %v", err)
	}

	respBytes, err := a.transport.Send(a.targetID, reqBytes)
	if err != nil {
		return nil, device.Errorf(device.StatusInternal, "rpc: target %d: %v", a.targetID, err)
	}

	resp := &common.Message{}
	if err := a.serializer.Deserialize(respBytes, resp); err != nil {
		return nil, device.Errorf(device.StatusInternal, "rpc: deserialize response: %v", err)
	}

	if resp.MsgType == common.MsgTError {
		return nil, resp.DeviceErr()
	}
	if resp.MsgType != req.MsgType {
		return nil, device.Errorf(device.StatusInternal, "rpc: unexpected message type %s, expected %s", resp.MsgType, req.MsgType)
	}
	return resp, resp.DeviceErr()
}

// --------------------------------------------------------------------------
// Transport and serializer selection
// --------------------------------------------------------------------------

// NewClientTransport returns the client transport with the given name (tcp, unix or http)
func NewClientTransport(name string) (transport.IRPCClientTransport, error) {
	switch strings.ToLower(name) {
	case "tcp", "":
		return tcp.NewTCPClientTransport(), nil
	case "unix":
		return unix.NewUnixClientTransport(), nil
	case "http":
		return http.NewHttpClientTransport(), nil
	default:
		return nil, fmt.Errorf("unknown transport %q (tcp, unix, http)", name)
	}
}

// NewServerTransport returns the server transport with the given name (tcp, unix or http)
func NewServerTransport(name string) (transport.IRPCServerTransport, error) {
	switch strings.ToLower(name) {
	case "tcp", "":
		return tcp.NewTCPServerTransport(), nil
	case "unix":
		return unix.NewUnixServerTransport(), nil
	case "http":
		return http.NewHttpServerTransport(), nil
	default:
		return nil, fmt.Errorf("unknown transport %q (tcp, unix, http)", name)
	}
}

// NewSerializer returns the serializer with the given name (binary, json or gob)
func NewSerializer(name string) (serializer.IRPCSerializer, error) {
	switch strings.ToLower(name) {
	case "binary", "":
		return serializer.NewBinarySerializer(), nil
	case "json":
		return serializer.NewJSONSerializer(), nil
	case "gob":
		return serializer.NewGOBSerializer(), nil
	default:
		return nil, fmt.Errorf("unknown serializer %q (binary, json, gob)", name)
	}
}
