// Package client implements a remote device: a device.IDevice whose commands are executed by a
// target of an "nkv serve" process. nKV opens remote paths with it.
//
// Key Components:
//
//   - NewRPCDevice: Connects a transport and returns the remote device. Device errors of the
//     server keep their status code, so nKV maps them exactly like errors of a local device.
//     Transport failures surface as StatusInternal.
//
//   - NewClientTransport / NewServerTransport / NewSerializer: select a transport or serializer by
//     name, as used in config files and CLI flags.
//
// Iteration:
//
// The native iterator is emulated on top of ListRange with device.RangeIterators, so an
// iterator handle only lives on the client.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  TimeoutSecond: 5,
//	  Transport: common.ClientTransportConfig{
//	    Endpoints:  []string{"localhost:8080"},
//	    RetryCount: 3,
//	  },
//	}
//
//	dev, err := client.NewRPCDevice(1, config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	if err != nil { ... }
//	defer dev.Close()
//
//	_ = dev.Store("dir/file", []byte("value"), device.StoreOptions{})
//
// Thread Safety:
//
//	The remote device is safe for concurrent use.
package client
