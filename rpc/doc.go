// Package rpc lets an nKV instance use devices that live in another process or on another host.
// A remote path of a container is a device.IDevice whose commands travel to an "nkv serve" process.
//
// The package is organized into several subpackages:
//
//   - common: the Message protocol, server and client configuration and the zap backed logger
//     factory for dragonboat's logger interface.
//
//   - transport: framed tcp and unix transports built on a shared base, and an HTTP transport.
//
//   - serializer: Message serialization (Binary, JSON, GOB).
//
//   - client: the remote device (device.IDevice over a transport).
//
//   - server: the device server that exposes memdev and raft replicated targets.
package rpc
