package serializer

import (
	"bytes"
	"encoding/gob"

	"github.com/ValentinKolb/nkv/rpc/common"
)

// NewGOBSerializer creates a serializer using encoding/gob
func NewGOBSerializer() IRPCSerializer {
	return gobSerializerImpl{}
}

// gobSerializerImpl encodes every message as a self-describing gob stream
type gobSerializerImpl struct{}

func (gobSerializerImpl) Name() string { return "gob" }

func (gobSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Deserialize resets msg because gob leaves fields that were zero on the sending side untouched
func (gobSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	*msg = common.Message{}
	return gob.NewDecoder(bytes.NewReader(b)).Decode(msg)
}
