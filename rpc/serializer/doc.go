// Package serializer encodes the device command messages (common.Message) exchanged between a
// remote nKV path and the nkv server.
//
// Three encodings are available, all behind IRPCSerializer:
//
//   - binary (NewBinarySerializer): a compact layout of a message type byte, a 16 bit field mask and
//     the present fields only. Strings and byte slices are length prefixed, key lists are counted.
//     This is the default of the CLI and the fastest of the three.
//
//   - json (NewJSONSerializer): readable on the wire, handy when debugging the http transport with
//     curl. Values are base64 encoded by encoding/json.
//
//   - gob (NewGOBSerializer): encoding/gob. Every message carries its type description, so payloads
//     are the largest; kept for compatibility with existing deployments.
//
// Deserialize always resets the target message before decoding, so a message value can be reused
// for many requests. Decoded byte slices never alias the input buffer; transports recycle their
// read buffers after the handler returns.
//
// All serializers are stateless and safe for concurrent use.
//
//	s := serializer.NewBinarySerializer()
//	data, err := s.Serialize(*common.NewRetrieveRequest("photos/a.jpg", 4096))
//	...
//	var resp common.Message
//	err = s.Deserialize(respData, &resp)
package serializer
