package server

import (
	"github.com/ValentinKolb/nkv/lib/device"
	"github.com/ValentinKolb/nkv/rpc/common"
)

// IRPCServerAdapter translates request messages into calls on a device
type IRPCServerAdapter interface {
	// Handle executes the request on dev and returns the response.
	// Device errors are reported inside the response, never as a Go error.
	Handle(req *common.Message, dev device.IDevice) (resp *common.Message)
}
