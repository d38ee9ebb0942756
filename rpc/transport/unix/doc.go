// Package unix plugs Unix domain sockets into the base transport. It is meant for nKV instances
// that open devices served by an "nkv serve" process on the same machine.
//
// The server removes a stale socket file before binding. The default server read buffer is 64 KB.
package unix
