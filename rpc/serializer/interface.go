package serializer

import "github.com/ValentinKolb/nkv/rpc/common"

// IRPCSerializer converts messages to and from their wire format
type IRPCSerializer interface {
	// Serialize encodes msg
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize decodes b into msg. msg is reset first; fields missing in b stay zero.
	Deserialize(b []byte, msg *common.Message) error
	// Name returns the name the serializer is selected by (binary, json, gob)
	Name() string
}
