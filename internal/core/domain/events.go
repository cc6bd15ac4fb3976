package domain

import "encoding/json"

// EventType names an asynchronous notification delivered to sessions.
type EventType string

const (
	EventStreamActivated   EventType = "stream-activated"
	EventStreamDeactivated EventType = "stream-deactivated"
	EventNewProducer       EventType = "new-producer"
	EventPeerJoined        EventType = "peer-joined"
	EventPeerLeft          EventType = "peer-left"
)

// Event is one fan-out notification. Fan-out happens synchronously after
// the state mutation that caused it, so a recipient can never observe an
// event referring to state it does not yet see.
type Event struct {
	Type       EventType       `json:"type"`
	StreamID   StreamID        `json:"streamId,omitempty"`
	ProducerID ProducerID      `json:"producerId,omitempty"`
	Kind       MediaKind       `json:"kind,omitempty"`
	PeerID     SessionID       `json:"peerId,omitempty"`
	Room       string          `json:"room,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}
