package ws

import "encoding/json"

// Frame types multiplexed over one connection. sync-update carries document
// deltas that are merged and persisted; awareness is ephemeral and is only
// relayed, never merged.
const (
	TypeJoinRoom   = "join-room"
	TypeLeaveRoom  = "leave-room"
	TypeSyncUpdate = "sync-update"
	TypeAwareness  = "awareness"
	TypeRoomState  = "room-state"
	TypeError      = "error"
)

type ClientMessage struct {
	Type      string `json:"type"`
	RoomID    string `json:"roomId"`
	Timestamp int64  `json:"timestamp,omitempty"`
	// Update is an encoded element batch (base64 on the wire).
	Update []byte `json:"update,omitempty"`
	// Awareness is opaque to the server; it is relayed as-is.
	Awareness json.RawMessage `json:"awareness,omitempty"`
}

type ServerMessage struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"roomId,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	UserID    uint64          `json:"userId,omitempty"`
	UserName  string          `json:"userName,omitempty"`
	Update    []byte          `json:"update,omitempty"`
	Awareness json.RawMessage `json:"awareness,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

type OutboundMessage interface {
	MessageType() string
}

func (m ServerMessage) MessageType() string { return m.Type }
