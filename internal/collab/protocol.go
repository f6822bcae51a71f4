package collab

// MessageType discriminates envelopes on the room transport.
type MessageType string

const (
	// TypeHello announces a peer to the relay after connecting. The
	// relay folds it into the room roster; it is never fanned out.
	TypeHello MessageType = "hello"

	// TypeSceneUpdate carries a sealed scene payload. Only holders of
	// the room key can open it; the relay fans it out as bytes.
	TypeSceneUpdate MessageType = "scene_update"

	// TypeSceneRequest asks the room for its current scene. Peers
	// answer with a TypeSceneUpdate.
	TypeSceneRequest MessageType = "scene_request"

	// TypePresence is sent by the relay whenever room membership
	// changes and carries the full roster.
	TypePresence MessageType = "presence"

	// TypeAssist signals that a peer wants attention from the room.
	TypeAssist MessageType = "assist"
)

// Peer identifies one room participant.
type Peer struct {
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
}

// Envelope is the wire frame for room traffic. Scene content travels
// only in Sealed; everything else is routing and presence metadata the
// relay may read.
type Envelope struct {
	Type     MessageType `json:"type"`
	SenderID string      `json:"senderId,omitempty"`
	Sealed   []byte      `json:"sealed,omitempty"`
	Peers    []Peer      `json:"peers,omitempty"`
	Peer     *Peer       `json:"peer,omitempty"`
}
