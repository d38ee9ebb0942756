// Package server implements "nkv serve": a process that exposes devices to remote nKV instances.
// A remote nKV path talks to one target of a server through rpc/client.
//
// Key Components:
//
//   - RPCServer: Creates the configured targets, decodes requests, routes them by target id and
//     encodes the responses. Targets live in an xsync.MapOf, so requests never contend on a lock.
//     Request and error counts are exported as nkv_rpc_requests_total and nkv_rpc_errors_total.
//
//   - IRPCServerAdapter / NewDeviceServerAdapter: Translates device messages (store, retrieve,
//     delete, exists, list range, info) into calls on a device.IDevice. Device errors travel back as
//     status code and message.
//
// Target types:
//
//   - memdev: a local in-memory device, optionally persisted to a data file on shutdown.
//
//   - raftdev: a device replicated with raft (dragonboat). The raft parameters of the server
//     config (RTTMillisecond, SnapshotEntries, CompactionOverhead, DataDir, ReplicaID and
//     ClusterMembers) must be set.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Targets: []common.ServerTarget{
//	    {TargetID: 1, Type: common.TargetTypeMemdev},
//	    {TargetID: 2, Type: common.TargetTypeRaftdev},
//	  },
//	  TimeoutSecond: 5,
//	  Transport: common.ServerTransportConfig{Endpoint: "0.0.0.0:8080"},
//	  ...
//	}
//
//	s := server.NewRPCServer(config, tcp.NewTCPServerTransport(), serializer.NewBinarySerializer())
//	go func() {
//	  server.WaitForSignal()
//	  _ = s.Shutdown()
//	}()
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
package server
