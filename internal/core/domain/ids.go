package domain

type SessionID string
type StreamID string
type RouterID string
type TransportID string
type ProducerID string
type ConsumerID string

// MediaKind is the media type carried by a producer or consumer.
type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

// Valid reports whether the kind is one of the two supported media types.
func (k MediaKind) Valid() bool {
	return k == MediaKindAudio || k == MediaKindVideo
}
