package registry

import (
	"sync"

	"streamgrid/internal/core/domain"
	"streamgrid/internal/core/ports"
)

// ResourceGraph keeps per-(session, stream) resource ownership. It never
// calls the media engine: release returns ids and the protocol handler
// does the closing, so the partial-failure-tolerant cleanup lives in one
// place.
type ResourceGraph struct {
	sessions map[domain.SessionID]map[domain.StreamID]*domain.StreamResources
	mu       sync.RWMutex
}

func NewResourceGraph() ports.ResourceGraph {
	return &ResourceGraph{
		sessions: make(map[domain.SessionID]map[domain.StreamID]*domain.StreamResources),
	}
}

func (g *ResourceGraph) entry(session domain.SessionID, stream domain.StreamID) *domain.StreamResources {
	streams, ok := g.sessions[session]
	if !ok {
		streams = make(map[domain.StreamID]*domain.StreamResources)
		g.sessions[session] = streams
	}
	res, ok := streams[stream]
	if !ok {
		res = &domain.StreamResources{}
		streams[stream] = res
	}
	return res
}

func (g *ResourceGraph) RecordProducerTransport(session domain.SessionID, stream domain.StreamID, transport domain.TransportID) domain.TransportID {
	g.mu.Lock()
	defer g.mu.Unlock()

	res := g.entry(session, stream)
	prev := res.ProducerTransport
	res.ProducerTransport = transport
	return prev
}

func (g *ResourceGraph) RecordConsumerTransport(session domain.SessionID, stream domain.StreamID, transport domain.TransportID) domain.TransportID {
	g.mu.Lock()
	defer g.mu.Unlock()

	res := g.entry(session, stream)
	prev := res.ConsumerTransport
	res.ConsumerTransport = transport
	return prev
}

func (g *ResourceGraph) HasProducerTransport(session domain.SessionID, stream domain.StreamID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if res, ok := g.sessions[session][stream]; ok {
		return res.ProducerTransport != ""
	}
	return false
}

func (g *ResourceGraph) HasConsumerTransport(session domain.SessionID, stream domain.StreamID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if res, ok := g.sessions[session][stream]; ok {
		return res.ConsumerTransport != ""
	}
	return false
}

func (g *ResourceGraph) AppendProducer(session domain.SessionID, stream domain.StreamID, producer domain.ProducerID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	res := g.entry(session, stream)
	res.Producers = append(res.Producers, producer)
}

func (g *ResourceGraph) AppendConsumer(session domain.SessionID, stream domain.StreamID, consumer domain.ConsumerID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	res := g.entry(session, stream)
	res.Consumers = append(res.Consumers, consumer)
}

func (g *ResourceGraph) Producers(session domain.SessionID, stream domain.StreamID) []domain.ProducerID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	res, ok := g.sessions[session][stream]
	if !ok {
		return nil
	}
	out := make([]domain.ProducerID, len(res.Producers))
	copy(out, res.Producers)
	return out
}

func (g *ResourceGraph) ProducerCount(stream domain.StreamID) int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	count := 0
	for _, streams := range g.sessions {
		if res, ok := streams[stream]; ok {
			count += len(res.Producers)
		}
	}
	return count
}

func (g *ResourceGraph) FindIngestSessionFor(stream domain.StreamID) (domain.SessionID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for session, streams := range g.sessions {
		if res, ok := streams[stream]; ok && res.ProducerTransport != "" {
			return session, true
		}
	}
	return "", false
}

func (g *ResourceGraph) ReleaseAll(session domain.SessionID) domain.ReleasedResources {
	g.mu.Lock()
	defer g.mu.Unlock()

	var released domain.ReleasedResources
	streams, ok := g.sessions[session]
	if !ok {
		return released
	}

	for streamID, res := range streams {
		released.Producers = append(released.Producers, res.Producers...)
		released.Consumers = append(released.Consumers, res.Consumers...)
		if res.ProducerTransport != "" {
			released.Transports = append(released.Transports, res.ProducerTransport)
			released.ProducerStreams = append(released.ProducerStreams, streamID)
		}
		if res.ConsumerTransport != "" {
			released.Transports = append(released.Transports, res.ConsumerTransport)
		}
	}

	delete(g.sessions, session)
	return released
}
