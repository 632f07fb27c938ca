package factory

import (
	"beltsim.ai/internal/protocol"
	"beltsim.ai/internal/sim/belt"
)

// OpProduce is the recorded op of an external produce request. Edit requests
// use protocol.OpPlace and protocol.OpRemove.
const OpProduce = "PRODUCE"

// Request is one edit or produce request, applied in inbox order at the next
// tick boundary. It is also the replay record in tick logs.
type Request struct {
	SessionID string `json:"session_id,omitempty"`
	ReqID     string `json:"req_id,omitempty"`
	Op        string `json:"op"`
	Pos       [2]int `json:"pos"`
	Dir       string `json:"dir,omitempty"`
	Tunnel    int    `json:"tunnel,omitempty"`
	Splitter  bool   `json:"splitter,omitempty"`
}

// Result is the outcome of one request.
type Result struct {
	Accepted bool
	Code     string
	Message  string
	ItemID   belt.ItemID

	// NoOp marks an accepted edit that left the tile set unchanged.
	NoOp bool
}

type JoinRequest struct {
	SessionID string
	Name      string
	Role      string
	Frames    bool
	Out       chan []byte
	Resp      chan protocol.WelcomeMsg
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

type TickLogEntry struct {
	Tick     uint64       `json:"tick"`
	Requests []Request    `json:"requests,omitempty"`
	Rebuild  *RebuildInfo `json:"rebuild,omitempty"`
	Stats    belt.Stats   `json:"stats"`
	Digest   string       `json:"digest"`
}

// RebuildInfo describes a graph rebuild performed during a tick.
type RebuildInfo struct {
	Seq     uint64 `json:"seq"`
	Tiles   int    `json:"tiles"`
	Runs    int    `json:"runs"`
	Dropped uint64 `json:"dropped"`
}

// AuditEntry records one accepted structural edit. From is the tile the edit
// replaced or removed; nil means the cell was empty.
type AuditEntry struct {
	Tick     uint64     `json:"tick"`
	Actor    string     `json:"actor"`
	Action   string     `json:"action"`
	Pos      [2]int     `json:"pos"`
	Dir      string     `json:"dir,omitempty"`
	Tunnel   int        `json:"tunnel,omitempty"`
	Splitter bool       `json:"splitter,omitempty"`
	From     *AuditTile `json:"from,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}

type AuditTile struct {
	Dir      string `json:"dir"`
	Tunnel   int    `json:"tunnel,omitempty"`
	Splitter bool   `json:"splitter,omitempty"`
}
