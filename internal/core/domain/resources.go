package domain

// StreamResources is the bookkeeping the resource graph keeps per
// (session, stream): at most one transport per direction, any number of
// producers and consumers.
type StreamResources struct {
	ProducerTransport TransportID
	ConsumerTransport TransportID
	Producers         []ProducerID
	Consumers         []ConsumerID
}

// ReleasedResources is everything a session owned across all streams at the
// moment it was released from the graph. The slices are ordered for safe
// teardown: producers and consumers must be closed before the transports
// that carry them.
type ReleasedResources struct {
	Producers  []ProducerID
	Consumers  []ConsumerID
	Transports []TransportID

	// ProducerStreams lists the streams on which the session held a
	// producer transport, so the caller can deactivate them when the
	// session was the ingest.
	ProducerStreams []StreamID
}

// Empty reports whether the release carried no resources at all.
func (r ReleasedResources) Empty() bool {
	return len(r.Producers) == 0 && len(r.Consumers) == 0 && len(r.Transports) == 0
}
