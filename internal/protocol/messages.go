package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ClientName      string            `json:"client_name"`
	Role            string            `json:"role,omitempty"`
	Capabilities    HelloCapabilities `json:"capabilities"`
}

type HelloCapabilities struct {
	MaxQueue int  `json:"max_queue,omitempty"`
	Frames   bool `json:"frames,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	SessionID       string        `json:"session_id"`
	FactoryID       string        `json:"factory_id"`
	Role            string        `json:"role"`
	Tick            uint64        `json:"tick"`
	Params          FactoryParams `json:"params"`
}

type FactoryParams struct {
	TickRateHz    int     `json:"tick_rate_hz"`
	Speed         float64 `json:"speed"`
	MinSpacing    float64 `json:"min_spacing"`
	AdmitRetryCap int     `json:"admit_retry_cap"`
	AutoWire      bool    `json:"auto_wire"`
}

// EDIT (client -> server): places or removes one belt tile. The edit is
// applied at the start of the next tick.
type EditMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	Op              string `json:"op"`
	Pos             [2]int `json:"pos"`
	Dir             string `json:"dir,omitempty"`
	Tunnel          int    `json:"tunnel,omitempty"`
	Splitter        bool   `json:"splitter,omitempty"`
}

// PRODUCE (client -> server): queues one new item at the run head Pos.
type ProduceMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	Pos             [2]int `json:"pos"`
}

// ACK (server -> client)
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	ServerTick      uint64 `json:"server_tick,omitempty"`
	ItemID          uint64 `json:"item_id,omitempty"`
}
