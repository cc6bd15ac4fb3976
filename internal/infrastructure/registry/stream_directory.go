package registry

import (
	"sync"
	"time"

	"streamgrid/internal/core/domain"
	"streamgrid/internal/core/ports"
	"streamgrid/pkg/utils"
)

type StreamDirectory struct {
	streams map[domain.StreamID]*domain.Stream
	mu      sync.RWMutex
}

func NewStreamDirectory() ports.StreamDirectory {
	return &StreamDirectory{
		streams: make(map[domain.StreamID]*domain.Stream),
	}
}

// snapshot copies the record so callers never share the live maps.
func snapshot(s *domain.Stream) domain.Stream {
	copy := *s
	copy.Metadata = make(map[string]string, len(s.Metadata))
	for k, v := range s.Metadata {
		copy.Metadata[k] = v
	}
	copy.Subscribers = make(map[domain.SessionID]struct{}, len(s.Subscribers))
	for id := range s.Subscribers {
		copy.Subscribers[id] = struct{}{}
	}
	return copy
}

func (d *StreamDirectory) Create(name string, ingest domain.SessionID, description string, metadata map[string]string) domain.Stream {
	d.mu.Lock()
	defer d.mu.Unlock()

	stream := &domain.Stream{
		ID:              domain.StreamID(utils.GenerateStreamID()),
		Name:            name,
		Description:     description,
		Metadata:        make(map[string]string, len(metadata)),
		CreatedAt:       time.Now(),
		Active:          false,
		IngestSessionID: ingest,
		Subscribers:     make(map[domain.SessionID]struct{}),
	}
	for k, v := range metadata {
		stream.Metadata[k] = v
	}

	d.streams[stream.ID] = stream
	return snapshot(stream)
}

func (d *StreamDirectory) Get(id domain.StreamID) (domain.Stream, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stream, ok := d.streams[id]
	if !ok {
		return domain.Stream{}, false
	}
	return snapshot(stream), true
}

func (d *StreamDirectory) GetByIngestSession(id domain.SessionID) (domain.Stream, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, stream := range d.streams {
		if stream.IngestSessionID == id {
			return snapshot(stream), true
		}
	}
	return domain.Stream{}, false
}

func (d *StreamDirectory) ListActive() []domain.Stream {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var active []domain.Stream
	for _, stream := range d.streams {
		if stream.Active {
			active = append(active, snapshot(stream))
		}
	}
	return active
}

func (d *StreamDirectory) ListAll() []domain.Stream {
	d.mu.RLock()
	defer d.mu.RUnlock()

	all := make([]domain.Stream, 0, len(d.streams))
	for _, stream := range d.streams {
		all = append(all, snapshot(stream))
	}
	return all
}

func (d *StreamDirectory) SetRouter(id domain.StreamID, routerID domain.RouterID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	stream, ok := d.streams[id]
	if !ok {
		return false
	}
	stream.RouterID = routerID
	return true
}

func (d *StreamDirectory) Activate(id domain.StreamID) (bool, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	stream, ok := d.streams[id]
	if !ok {
		return false, false
	}
	if stream.Active {
		return false, true
	}
	stream.Active = true
	return true, true
}

func (d *StreamDirectory) Deactivate(id domain.StreamID) (bool, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	stream, ok := d.streams[id]
	if !ok {
		return false, false
	}
	if !stream.Active {
		return false, true
	}
	stream.Active = false
	return true, true
}

func (d *StreamDirectory) AddSubscriber(id domain.StreamID, session domain.SessionID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	stream, ok := d.streams[id]
	if !ok {
		return false
	}
	if _, member := stream.Subscribers[session]; member {
		return false
	}
	stream.Subscribers[session] = struct{}{}
	return true
}

func (d *StreamDirectory) RemoveSubscriber(id domain.StreamID, session domain.SessionID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	stream, ok := d.streams[id]
	if !ok {
		return false
	}
	if _, member := stream.Subscribers[session]; !member {
		return false
	}
	delete(stream.Subscribers, session)
	return true
}

func (d *StreamDirectory) RemoveSubscriberEverywhere(session domain.SessionID) []domain.StreamID {
	d.mu.Lock()
	defer d.mu.Unlock()

	var changed []domain.StreamID
	for id, stream := range d.streams {
		if _, member := stream.Subscribers[session]; member {
			delete(stream.Subscribers, session)
			changed = append(changed, id)
		}
	}
	return changed
}

func (d *StreamDirectory) MergeMetadata(id domain.StreamID, patch map[string]string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	stream, ok := d.streams[id]
	if !ok {
		return false
	}
	for k, v := range patch {
		stream.Metadata[k] = v
	}
	return true
}

func (d *StreamDirectory) Delete(id domain.StreamID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.streams[id]; !ok {
		return false
	}
	delete(d.streams, id)
	return true
}
