// Package common provides the data structures shared by the RPC client, server and transports.
//
// Key Components:
//
//   - Message: The single request/response structure of the remote device protocol. Each
//     device.IDevice command has a message type; failed commands carry the device status code,
//     so the client can rebuild the original *device.Error.
//
//   - ServerConfig: Configuration of an "nkv serve" process, the targets it exposes (memdev or
//     raftdev), raft parameters and transport options. Provides conversions to Dragonboat configs.
//
//   - ClientConfig: Configuration of a remote device client: endpoints, timeout, retries and
//     connections per endpoint.
//
//   - Logger: A zap backed implementation of Dragonboat's logger.ILogger. InitLoggers installs
//     it as the factory, so Dragonboat and nkv packages log through the same zap core.
package common
