package transport

import (
	"github.com/ValentinKolb/nkv/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc handles one serialized request addressed to a target (a device exposed by the
// server) and returns the serialized response.
type ServerHandleFunc func(targetID uint64, req []byte) (resp []byte)

// IRPCServerTransport is the listening side of a transport
type IRPCServerTransport interface {
	// RegisterHandler registers the handler that is called for every received request.
	// It must be called before Listen.
	RegisterHandler(handler ServerHandleFunc)

	// Listen serves requests until Shutdown is called. It returns nil after a regular shutdown.
	Listen(config common.ServerConfig) error

	// Shutdown stops accepting requests and closes open connections.
	Shutdown() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the connecting side of a transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error

	// Send sends a request for a target to the server and returns the response
	Send(targetID uint64, req []byte) (resp []byte, err error)

	// Close closes all connections
	Close() error
}
