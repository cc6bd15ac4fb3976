package ports

import (
	"context"
	"encoding/json"

	"streamgrid/internal/core/domain"
)

type RegisterIngestRequest struct {
	StreamName  string            `json:"streamName"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type RegisterIngestResponse struct {
	StreamID        domain.StreamID `json:"streamId"`
	RouterID        domain.RouterID `json:"routerId"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
}

type ProduceRequest struct {
	TransportID   domain.TransportID `json:"transportId"`
	StreamID      domain.StreamID    `json:"streamId"`
	Kind          domain.MediaKind   `json:"kind"`
	RTPParameters json.RawMessage    `json:"rtpParameters"`
}

type SubscribeResponse struct {
	ProducerIDs     []domain.ProducerID `json:"producerIds"`
	RouterID        domain.RouterID     `json:"routerId"`
	RTPCapabilities json.RawMessage     `json:"rtpCapabilities"`
}

type ConsumeRequest struct {
	TransportID     domain.TransportID `json:"transportId"`
	ProducerID      domain.ProducerID  `json:"producerId"`
	StreamID        domain.StreamID    `json:"streamId"`
	RTPCapabilities json.RawMessage    `json:"rtpCapabilities"`
}

// SignalingService is the protocol handler: each operation validates
// preconditions against the registries, calls the media engine,
// re-validates, mutates state and fans out notifications. Errors returned
// here are always *errors.SignalError values classified per the taxonomy.
type SignalingService interface {
	// Connect registers a session on connection establishment.
	Connect(sessionID domain.SessionID)
	// Disconnect drives the cascading cleanup on session loss. Safe to
	// call twice; the second call is a no-op.
	Disconnect(ctx context.Context, sessionID domain.SessionID)

	RegisterAsIngest(ctx context.Context, sessionID domain.SessionID, req RegisterIngestRequest) (RegisterIngestResponse, error)
	Streams(ctx context.Context) []domain.StreamSummary
	Stream(ctx context.Context, streamID domain.StreamID) (domain.StreamSummary, error)
	RouterCapabilities(ctx context.Context, streamID domain.StreamID) (json.RawMessage, error)
	UpdateStreamMetadata(ctx context.Context, sessionID domain.SessionID, streamID domain.StreamID, patch map[string]string) error
	DeleteStream(ctx context.Context, streamID domain.StreamID) error

	CreateProducerTransport(ctx context.Context, sessionID domain.SessionID, streamID domain.StreamID) (TransportInfo, error)
	ConnectProducerTransport(ctx context.Context, sessionID domain.SessionID, transportID domain.TransportID, dtlsParameters json.RawMessage) error
	Produce(ctx context.Context, sessionID domain.SessionID, req ProduceRequest) (domain.ProducerID, error)

	SubscribeToStream(ctx context.Context, sessionID domain.SessionID, streamID domain.StreamID, rtpCapabilities json.RawMessage) (SubscribeResponse, error)
	CreateConsumerTransport(ctx context.Context, sessionID domain.SessionID, streamID domain.StreamID) (TransportInfo, error)
	ConnectConsumerTransport(ctx context.Context, sessionID domain.SessionID, transportID domain.TransportID, dtlsParameters json.RawMessage) error
	Consume(ctx context.Context, sessionID domain.SessionID, req ConsumeRequest) (ConsumerInfo, error)
	ResumeConsumer(ctx context.Context, sessionID domain.SessionID, consumerID domain.ConsumerID) error
	PauseConsumer(ctx context.Context, sessionID domain.SessionID, consumerID domain.ConsumerID) error

	// StreamStats aggregates the stats of every producer feeding a stream.
	StreamStats(ctx context.Context, streamID domain.StreamID) (json.RawMessage, error)
	ProducerStats(ctx context.Context, producerID domain.ProducerID) (json.RawMessage, error)
	ConsumerStats(ctx context.Context, consumerID domain.ConsumerID) (json.RawMessage, error)
	TransportStats(ctx context.Context, transportID domain.TransportID) (json.RawMessage, error)
}
