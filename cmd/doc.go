// Package cmd implements the command-line interface of nKV. It can serve devices to remote
// nKV instances and open an nKV instance to operate on its containers.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for key-value operations on a container (put, get, del, exists, list, stats, perf)
//   - lock: Commands for locking operations (acquire, release)
//   - serve: Command for serving memdev and raftdev targets over tcp, unix or http
//   - util: Shared flag, config and instance helpers (internal use)
//
// Flags can also be set with NKV_ prefixed environment variables or in a .env file,
// e.g. NKV_CONFIG=./nkv.yaml.
//
// See nkv -help for a list of all commands.
package cmd
