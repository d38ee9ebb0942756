// Package tcp plugs TCP sockets into the base transport. Both sides apply the configured
// socket buffer sizes, TCP_NODELAY, keep-alive and linger options to every connection.
//
// The default server read buffer is 512 KB.
package tcp
