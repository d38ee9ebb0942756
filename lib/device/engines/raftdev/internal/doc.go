// Package internal defines the wire format between the raftdev client and its replicated state
// machine.
//
//   - Command: a write (Store, Delete) that is proposed to the raft log. Commands use a compact
//     binary encoding: 1 byte type, 1 byte flags (FlagIdempotent), 4 bytes key length (big
//     endian), the key bytes and the value bytes as the remainder.
//
//   - Query: a read (Retrieve, Exists, ListRange, Info) executed through SyncRead or StaleRead.
//     Queries never enter the log and are therefore passed as plain structs.
//
// Commands map to device features (CommandType.ToFeature) so the state machine can reject
// operations the wrapped device does not support.
package internal
