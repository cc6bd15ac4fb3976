package signal

import (
	"encoding/json"

	"streamgrid/internal/core/domain"
)

// SignalMessage is the envelope for every frame on the signaling socket,
// both directions. Requests carry an optional request_id the response
// echoes back, so clients can correlate in-flight calls.
type SignalMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ErrorPayload is the body of a response that failed.
type ErrorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type StreamPayload struct {
	StreamID domain.StreamID `json:"streamId"`
}

type UpdateMetadataPayload struct {
	StreamID domain.StreamID   `json:"streamId"`
	Metadata map[string]string `json:"metadata"`
}

type ConnectTransportPayload struct {
	TransportID    domain.TransportID `json:"transportId"`
	DTLSParameters json.RawMessage    `json:"dtlsParameters"`
}

type SubscribePayload struct {
	StreamID        domain.StreamID `json:"streamId"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
}

type ConsumerPayload struct {
	ConsumerID domain.ConsumerID `json:"consumerId"`
}

type ProducerStatsPayload struct {
	ProducerID domain.ProducerID `json:"producerId"`
}

type ConsumerStatsPayload struct {
	ConsumerID domain.ConsumerID `json:"consumerId"`
}

type TransportStatsPayload struct {
	TransportID domain.TransportID `json:"transportId"`
}

type ConnectedPayload struct {
	SessionID domain.SessionID `json:"sessionId"`
}

type StatsPayload struct {
	Stats json.RawMessage `json:"stats"`
}

type StreamListPayload struct {
	Streams []domain.StreamSummary `json:"streams"`
}
