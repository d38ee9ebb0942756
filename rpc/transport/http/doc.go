// Package http implements the remote device transport over HTTP. Every message is one
// POST /{targetId} request whose body is the serialized message.
//
// The server is a chi router. Besides the RPC route it serves GET /metrics (Prometheus text format,
// written by VictoriaMetrics) and GET /health. With log level "debug" every request is logged.
//
// The client selects servers round robin; a failed request is retried on the next server.
//
// Thread Safety:
//
//	Send is safe for concurrent use. Connect and Close must not run concurrently with Send.
package http
