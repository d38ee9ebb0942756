// Package transport defines how serialized remote device requests travel between a client and an
// "nkv serve" process. Every request is addressed to a target ID, the server routes it to the
// device registered under that ID.
//
// Implementations:
//
//   - base: framed, multiplexed connections. The tcp and unix packages plug their dialers and
//     listeners into it.
//   - http: one POST request per message, served with a chi router that also exposes /metrics.
package transport
