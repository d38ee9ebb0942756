package common

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/nkv/lib/device"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Request fields
	Key        string `json:"key,omitempty"`         // Used for: Store, Retrieve, Delete, Exists, ListRange (prefix)
	StartAfter string `json:"start_after,omitempty"` // Used for: ListRange
	Value      []byte `json:"value,omitempty"`       // Used for: Store (request), Retrieve (response)
	Size       uint64 `json:"size,omitempty"`        // Used for: Retrieve (buffer size / actual length), ListRange (max keys)

	// Response fields
	Keys   []string `json:"keys,omitempty"`   // Used for: ListRange responses
	Ok     bool     `json:"ok,omitempty"`     // Used for: Store (idempotent flag), Exists and ListRange (more) responses
	Status uint32   `json:"status,omitempty"` // Device status code of a failed command
	Err    string   `json:"err,omitempty"`    // Empty if no error, otherwise contains the error message

	// Meta information
	Meta []byte `json:"meta,omitempty"` // Used for: Info responses (JSON encoded device.Info)
}

// setErr fills the error fields of a response
func (m *Message) setErr(err error) *Message {
	if err != nil {
		m.Err = err.Error()
		m.Status = uint32(device.StatusOf(err))
	}
	return m
}

// DeviceErr converts the error fields of a response back into a device error.
// It returns nil if the response carries no error.
func (m *Message) DeviceErr() error {
	if m.Err == "" && m.MsgType != MsgTError {
		return nil
	}
	status := device.Status(m.Status)
	if status == device.StatusSuccess {
		status = device.StatusInternal
	}
	return device.NewError(status, m.Err)
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewStoreRequest creates a new Store request
func NewStoreRequest(key string, value []byte, idempotent bool) *Message {
	return &Message{
		MsgType: MsgTDevStore,
		Key:     key,
		Value:   value,
		Ok:      idempotent,
	}
}

// NewStoreResponse creates a new Store response
func NewStoreResponse(err error) *Message {
	return (&Message{MsgType: MsgTDevStore}).setErr(err)
}

// NewRetrieveRequest creates a new Retrieve request for a caller buffer of size bytes
func NewRetrieveRequest(key string, size int) *Message {
	return &Message{
		MsgType: MsgTDevRetrieve,
		Key:     key,
		Size:    uint64(size),
	}
}

// NewRetrieveResponse creates a new Retrieve response.
// value holds the bytes that fit into the caller buffer, actualLen the full value length.
func NewRetrieveResponse(value []byte, actualLen int, err error) *Message {
	return (&Message{
		MsgType: MsgTDevRetrieve,
		Value:   value,
		Size:    uint64(actualLen),
	}).setErr(err)
}

// NewDeleteRequest creates a new Delete request
func NewDeleteRequest(key string) *Message {
	return &Message{
		MsgType: MsgTDevDelete,
		Key:     key,
	}
}

// NewDeleteResponse creates a new Delete response
func NewDeleteResponse(err error) *Message {
	return (&Message{MsgType: MsgTDevDelete}).setErr(err)
}

// NewExistsRequest creates a new Exists request
func NewExistsRequest(key string) *Message {
	return &Message{
		MsgType: MsgTDevExists,
		Key:     key,
	}
}

// NewExistsResponse creates a new Exists response
func NewExistsResponse(ok bool, err error) *Message {
	return (&Message{
		MsgType: MsgTDevExists,
		Ok:      ok,
	}).setErr(err)
}

// NewListRangeRequest creates a new ListRange request
func NewListRangeRequest(prefix, startAfter string, max int) *Message {
	return &Message{
		MsgType:    MsgTDevListRange,
		Key:        prefix,
		StartAfter: startAfter,
		Size:       uint64(max),
	}
}

// NewListRangeResponse creates a new ListRange response
func NewListRangeResponse(keys []string, more bool, err error) *Message {
	return (&Message{
		MsgType: MsgTDevListRange,
		Keys:    keys,
		Ok:      more,
	}).setErr(err)
}

// NewInfoRequest creates a new Info request
func NewInfoRequest() *Message {
	return &Message{MsgType: MsgTDevInfo}
}

// NewInfoResponse creates a new Info response
func NewInfoResponse(info device.Info, err error) *Message {
	msg := &Message{MsgType: MsgTDevInfo}
	if err != nil {
		return msg.setErr(err)
	}
	meta, err := json.Marshal(info)
	if err != nil {
		return msg.setErr(err)
	}
	msg.Meta = meta
	return msg
}

// DecodeInfo decodes the device info of an Info response
func (m *Message) DecodeInfo() (device.Info, error) {
	var info device.Info
	if err := json.Unmarshal(m.Meta, &info); err != nil {
		return device.Info{}, device.Errorf(device.StatusInternal, "decode device info: %v", err)
	}
	return info, nil
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Status:  uint32(device.StatusInternal),
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

var messageTypeNames = map[MessageType]string{
	MsgTSuccess:      "success",
	MsgTError:        "error",
	MsgTDevStore:     "store",
	MsgTDevRetrieve:  "retrieve",
	MsgTDevDelete:    "delete",
	MsgTDevExists:    "exists",
	MsgTDevListRange: "listRange",
	MsgTDevInfo:      "info",
	MsgTCustom:       "custom",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for mt, name := range messageTypeNames {
		if name == s {
			*t = mt
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// device.IDevice operations

	MsgTDevStore     // Store a value
	MsgTDevRetrieve  // Retrieve a value into a buffer of the requested size
	MsgTDevDelete    // Delete a key
	MsgTDevExists    // Check if a key exists
	MsgTDevListRange // List keys after a start key
	MsgTDevInfo      // Device information

	// Custom operations

	MsgTCustom // Custom operation type
)
