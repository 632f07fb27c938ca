package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeFrame   = "FRAME"
	TypeEdit    = "EDIT"
	TypeProduce = "PRODUCE"
	TypeAck     = "ACK"
)

// Edit operations.
const (
	OpPlace  = "PLACE"
	OpRemove = "REMOVE"
)

// Session roles. Observers only receive frames.
const (
	RoleObserver = "OBSERVER"
	RoleEditor   = "EDITOR"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
