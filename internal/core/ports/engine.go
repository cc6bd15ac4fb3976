package ports

import (
	"context"
	"encoding/json"

	"streamgrid/internal/core/domain"
)

// RouterInfo is the handle returned by router creation: the engine-side id
// plus the negotiated RTP capabilities clients use to configure their
// devices.
type RouterInfo struct {
	ID              domain.RouterID `json:"id"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
}

// TransportInfo carries the connection parameters a client needs to
// establish the ICE/DTLS endpoint. The parameter blobs are opaque to the
// orchestration layer and pass through unmodified.
type TransportInfo struct {
	ID             domain.TransportID `json:"id"`
	ICEParameters  json.RawMessage    `json:"iceParameters"`
	ICECandidates  json.RawMessage    `json:"iceCandidates"`
	DTLSParameters json.RawMessage    `json:"dtlsParameters"`
	SCTPParameters json.RawMessage    `json:"sctpParameters,omitempty"`
}

// ConsumerInfo is the handle returned by consumer creation. Consumers are
// created paused; the client resumes once its transport is ready.
type ConsumerInfo struct {
	ID            domain.ConsumerID `json:"id"`
	ProducerID    domain.ProducerID `json:"producerId"`
	Kind          domain.MediaKind  `json:"kind"`
	RTPParameters json.RawMessage   `json:"rtpParameters"`
	Type          string            `json:"type"`
}

// MediaEngine is the imperative resource API of the media-forwarding
// engine. Every call is a suspension point: callers must re-validate
// registry state after it returns, because concurrent disconnects may have
// invalidated what was checked before the call. All Close operations are
// idempotent no-ops on unknown ids.
type MediaEngine interface {
	CreateRouter(ctx context.Context, streamID domain.StreamID) (RouterInfo, error)
	RouterCapabilities(ctx context.Context, routerID domain.RouterID) (json.RawMessage, error)

	CreateTransport(ctx context.Context, routerID domain.RouterID, isProducer bool) (TransportInfo, error)
	ConnectTransport(ctx context.Context, transportID domain.TransportID, dtlsParameters json.RawMessage) error

	CreateProducer(ctx context.Context, transportID domain.TransportID, kind domain.MediaKind, rtpParameters json.RawMessage) (domain.ProducerID, error)

	// CreateConsumer returns (nil, nil) when the producer cannot be
	// consumed with the given capabilities. That is a signaling-level
	// InvalidState, not an engine failure.
	CreateConsumer(ctx context.Context, transportID domain.TransportID, producerID domain.ProducerID, rtpCapabilities json.RawMessage) (*ConsumerInfo, error)

	PauseConsumer(ctx context.Context, consumerID domain.ConsumerID) error
	ResumeConsumer(ctx context.Context, consumerID domain.ConsumerID) error

	TransportStats(ctx context.Context, transportID domain.TransportID) (json.RawMessage, error)
	ProducerStats(ctx context.Context, producerID domain.ProducerID) (json.RawMessage, error)
	ConsumerStats(ctx context.Context, consumerID domain.ConsumerID) (json.RawMessage, error)

	CloseProducer(ctx context.Context, producerID domain.ProducerID) error
	CloseConsumer(ctx context.Context, consumerID domain.ConsumerID) error
	CloseTransport(ctx context.Context, transportID domain.TransportID) error
	CloseRouter(ctx context.Context, routerID domain.RouterID) error
}
