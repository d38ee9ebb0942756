// Package base implements the framed connection transport shared by the tcp and unix packages.
// The protocol specific parts (dialing, listening, socket options) are injected as connectors.
//
// Frame format (all integers big endian):
//
//	target id (8 bytes) | request id (8 bytes) | payload length (4 bytes) | payload
//
// Client:
//
//   - Several connections per endpoint, selected round robin.
//   - Requests are multiplexed: each connection has one reader goroutine that hands responses to
//     the waiting request by request id.
//   - A broken connection fails all requests waiting on it and is dialed again on the next send.
//     Failed sends are retried with exponential backoff.
//
// Server:
//
//   - One goroutine per connection reads frames, a bounded number of workers per connection
//     call the handler. Responses may be written out of order.
//   - Read buffers are taken from a sync.Pool.
//   - Shutdown closes the listener and all open connections; Listen returns after all
//     connection handlers finished.
package base
